// Package metrics implements the observability surface named in spec §6:
// counters, histograms, and gauges with a bounded label set, exposed as
// Prometheus text format for the healthsrv /metrics endpoint.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry implements domain.MetricSink (spec §6 "Observability surface").
// Label cardinality is the caller's responsibility — the registry does not
// enforce it.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string]*histogram
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string]*histogram),
	}
}

type histogram struct {
	samples []float64
}

func key(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	b.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
	}
	b.WriteString("}")
	return b.String()
}

// IncCounter implements domain.MetricSink.
func (r *Registry) IncCounter(name string, labels map[string]string, delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[key(name, labels)] += delta
}

// ObserveHistogram implements domain.MetricSink.
func (r *Registry) ObserveHistogram(name string, labels map[string]string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(name, labels)
	h, ok := r.histograms[k]
	if !ok {
		h = &histogram{}
		r.histograms[k] = h
	}
	h.samples = append(h.samples, value)
}

// SetGauge implements domain.MetricSink.
func (r *Registry) SetGauge(name string, labels map[string]string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[key(name, labels)] = value
}

// Percentile returns the p-th percentile (0-100) of a histogram's samples,
// or 0 if it has none: the sorted sample at index floor(p/100 * (n-1)).
func (r *Registry) Percentile(name string, labels map[string]string, p float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.histograms[key(name, labels)]
	if !ok || len(h.samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), h.samples...)
	sort.Float64s(sorted)
	idx := int(p / 100 * float64(len(sorted)-1))
	return sorted[idx]
}

// WriteProm renders every metric in Prometheus text exposition format.
func (r *Registry) WriteProm() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	names := make([]string, 0, len(r.counters)+len(r.gauges))
	for k := range r.counters {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(&b, "%s %g\n", k, r.counters[k])
	}

	gaugeNames := make([]string, 0, len(r.gauges))
	for k := range r.gauges {
		gaugeNames = append(gaugeNames, k)
	}
	sort.Strings(gaugeNames)
	for _, k := range gaugeNames {
		fmt.Fprintf(&b, "%s %g\n", k, r.gauges[k])
	}

	histNames := make([]string, 0, len(r.histograms))
	for k := range r.histograms {
		histNames = append(histNames, k)
	}
	sort.Strings(histNames)
	for _, k := range histNames {
		fmt.Fprintf(&b, "%s_count %d\n", k, len(r.histograms[k].samples))
	}

	return b.String()
}
