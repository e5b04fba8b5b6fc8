package domain

import (
	"context"
	"time"
)

// MailboxDriver provides fetch(window_start, window_end, folders) per spec
// §6 "Mailbox driver contract". The driver handles authentication, paging,
// and transient retries; the core never does.
type MailboxDriver interface {
	Fetch(ctx context.Context, windowStart, windowEnd time.Time, folders []string) ([]RawRecord, error)
}

// LanguageModel accepts a prompt and returns raw text, per spec §6
// "Language-model contract". Parsing the response is the core's job.
type LanguageModel interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// CompletionRequest is the language-model call contract.
type CompletionRequest struct {
	PromptText  string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// CompletionResponse carries the raw text plus token accounting used for
// cost/budget tracking (spec §5 "Budget enforcement").
type CompletionResponse struct {
	ResponseText string
	TokensIn     int
	TokensOut    int
}

// MetricSink is the observability contract (spec §6 "Observability
// surface"). Label cardinality is bounded by callers — no per-message
// labels are ever passed.
type MetricSink interface {
	IncCounter(name string, labels map[string]string, delta float64)
	ObserveHistogram(name string, labels map[string]string, value float64)
	SetGauge(name string, labels map[string]string, value float64)
}
