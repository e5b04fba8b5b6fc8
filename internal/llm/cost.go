package llm

import (
	"sync"
)

// perMillionTokenPrices holds illustrative $/1M-token rates for cost
// accounting (spec §5 "Budget enforcement" tracks cost, not just tokens).
var perMillionTokenPrices = map[string][2]float64{
	"gpt-4o-mini":       {0.15, 0.60},
	"gpt-4o":            {2.50, 10.00},
	"gpt-4-turbo":       {10.00, 30.00},
	"gpt-3.5-turbo":     {0.50, 1.50},
}

// CalculateCost estimates the dollar cost of one completion call.
func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	prices, ok := perMillionTokenPrices[model]
	if !ok {
		prices = perMillionTokenPrices["gpt-4o-mini"]
	}
	return float64(inputTokens)/1_000_000*prices[0] + float64(outputTokens)/1_000_000*prices[1]
}

// CostTracker accumulates spend and token usage across a run (spec §5,
// §6 "llm_cost_total_usd" / "llm_tokens_total").
type CostTracker struct {
	mu           sync.RWMutex
	totalCost    float64
	totalTokens  int64
	requestCount int64
	modelUsage   map[string]int64
}

// NewCostTracker returns an empty tracker.
func NewCostTracker() *CostTracker {
	return &CostTracker{modelUsage: make(map[string]int64)}
}

// Track records one completion call's cost and returns that call's cost.
func (t *CostTracker) Track(model string, inputTokens, outputTokens int) float64 {
	cost := CalculateCost(model, inputTokens, outputTokens)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalCost += cost
	t.totalTokens += int64(inputTokens + outputTokens)
	t.requestCount++
	t.modelUsage[model] += int64(inputTokens + outputTokens)
	return cost
}

// Stats snapshots the running totals.
func (t *CostTracker) Stats() CostStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var avg float64
	if t.requestCount > 0 {
		avg = t.totalCost / float64(t.requestCount)
	}
	return CostStats{
		TotalCostUSD:      t.totalCost,
		TotalTokens:       t.totalTokens,
		RequestCount:      t.requestCount,
		AvgCostPerRequest: avg,
	}
}

// CostStats is a point-in-time snapshot of CostTracker.
type CostStats struct {
	TotalCostUSD      float64 `json:"total_cost_usd"`
	TotalTokens       int64   `json:"total_tokens"`
	RequestCount      int64   `json:"request_count"`
	AvgCostPerRequest float64 `json:"avg_cost_per_request"`
}

// ModelSelector picks the model for the final aggregation pass vs. the
// per-thread pass. A distinct final model can be configured; without one,
// both stages use the thread model.
type ModelSelector struct {
	ThreadModel string
	FinalModel  string
}

// NewModelSelector builds a selector from config-resolved model names.
func NewModelSelector(threadModel, finalModel string) *ModelSelector {
	if finalModel == "" {
		finalModel = threadModel
	}
	return &ModelSelector{ThreadModel: threadModel, FinalModel: finalModel}
}

// ForStage returns the model name to use for the given pipeline stage.
func (s *ModelSelector) ForStage(stage string) string {
	if stage == "final" {
		return s.FinalModel
	}
	return s.ThreadModel
}
