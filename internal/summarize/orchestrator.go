package summarize

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/d1249/maildigest/internal/domain"
)

// ThreadSummary is the structured output of per-thread summarization (spec
// §4.6 step 1): a title, a handful of key citations, and pending actions.
type ThreadSummary struct {
	ThreadID       string
	LatestAt       time.Time
	Title          string
	Citations      []QuoteRef
	PendingActions []PendingAction
	Degraded       bool
	DegradeReason  string
}

// QuoteRef pairs an evidence id with a short verbatim quote.
type QuoteRef struct {
	EvidenceID string `json:"evidence_id"`
	Quote      string `json:"quote"`
}

// PendingAction is a per-thread pending action/deadline/open question.
type PendingAction struct {
	Text       string  `json:"text"`
	EvidenceID string  `json:"evidence_id"`
	Quote      string  `json:"quote"`
	Deadline   *string `json:"deadline"`
}

type threadResponse struct {
	Title          string          `json:"title"`
	Citations      []QuoteRef      `json:"citations"`
	PendingActions []PendingAction `json:"pending_actions"`
}

// Orchestrator runs flat or hierarchical summarization over the ranked
// evidence chunks (spec §4.6).
type Orchestrator struct {
	LLM             domain.LanguageModel
	ParallelPool    int
	PerThreadTimeout time.Duration
	FlatFinalTimeout time.Duration
	Model           string
	MaxTokens       int

	// Log is a zerolog.Logger for the hierarchical fan-out, the
	// pipeline's one concurrent region, kept separate from the ambient
	// internal/logger narration the rest of the run uses. Callers must
	// set this explicitly (zerolog.Nop() to discard); the zero value is
	// not a usable Logger, same as upstream zerolog.
	Log zerolog.Logger
}

// job is one per-thread summarization task submitted to the worker pool.
type job struct {
	thread  domain.Thread
	chunks  []domain.EvidenceChunk
	messages map[string]domain.Message
}

// threadWorker adapts Orchestrator.summarizeThread to go-pkgz/pool's
// Worker interface (spec §5 "Stage 7, hierarchical mode, is the only
// parallel region").
type threadWorker struct {
	o       *Orchestrator
	results *[]ThreadSummary
	mu      *sync.Mutex
}

func (w *threadWorker) Do(ctx context.Context, j *job) error {
	ts := w.o.summarizeThread(ctx, j.thread, j.chunks, j.messages)
	w.mu.Lock()
	*w.results = append(*w.results, ts)
	w.mu.Unlock()
	return nil
}

// RunHierarchical executes stage 7's hierarchical mode: fan out per-thread
// summarization across a worker pool of size ParallelPool, join, then
// produce the final aggregation prompt and call the model once more (spec
// §4.6 "Hierarchical mode"). The final prompt text is returned alongside
// the response so the caller can retry with Repair on a schema failure
// without rebuilding it from scratch.
func (o *Orchestrator) RunHierarchical(ctx context.Context, threads []domain.Thread, chunksByThread map[string][]domain.EvidenceChunk, messages map[string]domain.Message, bypassedChunks []domain.EvidenceChunk, finalInputTokenCap int, digestSchema string) (string, []ThreadSummary, string, error) {
	var results []ThreadSummary
	var mu sync.Mutex

	worker := &threadWorker{o: o, results: &results, mu: &mu}
	workers := o.ParallelPool
	if workers <= 0 {
		workers = 8
	}

	o.Log.Info().Int("threads", len(threads)).Int("workers", workers).Msg("hierarchical fan-out starting")

	wg := pool.New[*job](workers, worker).WithContinueOnError()
	if err := wg.Go(ctx); err != nil {
		o.Log.Error().Err(err).Msg("hierarchical pool failed to start")
		return "", nil, "", err
	}
	for _, t := range threads {
		wg.Submit(&job{thread: t, chunks: chunksByThread[t.ThreadID], messages: messages})
	}
	if err := wg.Wait(ctx); err != nil {
		o.Log.Error().Err(err).Msg("hierarchical pool wait failed")
		return "", nil, "", err
	}

	degraded := 0
	for _, r := range results {
		if r.Degraded {
			degraded++
		}
	}
	o.Log.Info().Int("summaries", len(results)).Int("degraded", degraded).Msg("hierarchical fan-out complete")

	// Reconstruct a deterministic order: latest received-at (newest first),
	// then thread id (spec §5 "Ordering").
	sort.Slice(results, func(i, j int) bool {
		if !results[i].LatestAt.Equal(results[j].LatestAt) {
			return results[i].LatestAt.After(results[j].LatestAt)
		}
		return results[i].ThreadID < results[j].ThreadID
	})

	shrunk := shrinkToCap(results, finalInputTokenCap)
	prompt := BuildFinalPrompt(shrunk, bypassedChunks, messages, digestSchema)

	resp, err := o.LLM.Complete(ctx, domain.CompletionRequest{
		PromptText:  prompt,
		Model:       o.Model,
		MaxTokens:   o.MaxTokens,
		Temperature: 0.2,
		Timeout:     o.FlatFinalTimeout,
	})
	if err != nil {
		return "", results, prompt, err
	}
	return resp.ResponseText, results, prompt, nil
}

// RunFlat executes stage 7's flat mode: one prompt, one call (spec §4.6
// "Flat mode"). The prompt text is returned alongside the response so the
// caller can retry with Repair on a schema failure without rebuilding it.
func (o *Orchestrator) RunFlat(ctx context.Context, chunks []domain.EvidenceChunk, messages map[string]domain.Message, digestSchema string) (string, string, error) {
	prompt := BuildFlatPrompt(chunks, messages, digestSchema)
	resp, err := o.LLM.Complete(ctx, domain.CompletionRequest{
		PromptText:  prompt,
		Model:       o.Model,
		MaxTokens:   o.MaxTokens,
		Temperature: 0.2,
		Timeout:     o.FlatFinalTimeout,
	})
	if err != nil {
		return "", prompt, err
	}
	return resp.ResponseText, prompt, nil
}

// Repair re-issues prompt with an explicit repair instruction appended,
// naming the validation failure that validationErr carries, and returns the
// model's second attempt (spec §4.7 "Schema": on a validation failure,
// retry the language-model call once with an explicit repair instruction
// before falling through to the extractive degrade path).
func (o *Orchestrator) Repair(ctx context.Context, prompt string, validationErr error, timeout time.Duration) (string, error) {
	repairPrompt := prompt +
		"\n\nYour previous response failed schema validation: " + validationErr.Error() +
		"\nRespond again with only the corrected JSON object matching the schema above. Do not include any explanation."

	resp, err := o.LLM.Complete(ctx, domain.CompletionRequest{
		PromptText:  repairPrompt,
		Model:       o.Model,
		MaxTokens:   o.MaxTokens,
		Temperature: 0.2,
		Timeout:     timeout,
	})
	if err != nil {
		return "", err
	}
	return resp.ResponseText, nil
}

// summarizeThread calls the model for a single thread's chunks, with a
// per-call timeout. On timeout/transport error it degrades to a stub built
// from the two highest-priority chunks verbatim (spec §4.6).
func (o *Orchestrator) summarizeThread(ctx context.Context, thread domain.Thread, chunks []domain.EvidenceChunk, messages map[string]domain.Message) ThreadSummary {
	latest := latestReceivedAt(thread)

	if len(chunks) == 0 {
		return ThreadSummary{ThreadID: thread.ThreadID, LatestAt: latest, Title: thread.Messages[len(thread.Messages)-1].Subject}
	}

	prompt := BuildThreadPrompt(thread, chunks, messages)
	resp, err := o.LLM.Complete(ctx, domain.CompletionRequest{
		PromptText:  prompt,
		Model:       o.Model,
		MaxTokens:   512,
		Temperature: 0.2,
		Timeout:     o.PerThreadTimeout,
	})
	if err != nil {
		return degradeStub(thread, chunks, "llm_call_failed: "+err.Error())
	}

	parsed, err := parseThreadResponse(resp.ResponseText)
	if err != nil {
		return degradeStub(thread, chunks, "unparseable_response: "+err.Error())
	}

	return ThreadSummary{
		ThreadID:       thread.ThreadID,
		LatestAt:       latest,
		Title:          parsed.Title,
		Citations:      parsed.Citations,
		PendingActions: parsed.PendingActions,
	}
}

// degradeStub builds the fallback summary from the two highest-priority
// chunks verbatim, marked degraded (spec §4.6 "On timeout or transport
// error, degrade").
func degradeStub(thread domain.Thread, chunks []domain.EvidenceChunk, reason string) ThreadSummary {
	sorted := make([]domain.EvidenceChunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PriorityScore > sorted[j].PriorityScore })
	n := 2
	if n > len(sorted) {
		n = len(sorted)
	}

	var citations []QuoteRef
	var title string
	for i := 0; i < n; i++ {
		c := sorted[i]
		quote := c.Content
		if len(quote) > 150 {
			quote = quote[:150]
		}
		citations = append(citations, QuoteRef{EvidenceID: c.EvidenceID, Quote: quote})
		if title == "" {
			title = firstLine(c.Content, 90)
		}
	}

	return ThreadSummary{
		ThreadID:      thread.ThreadID,
		LatestAt:      latestReceivedAt(thread),
		Title:         title,
		Citations:     citations,
		Degraded:      true,
		DegradeReason: reason,
	}
}

func firstLine(s string, maxWords int) string {
	fields := strings.Fields(s)
	if len(fields) > maxWords {
		fields = fields[:maxWords]
	}
	return strings.Join(fields, " ")
}

func parseThreadResponse(raw string) (threadResponse, error) {
	trimmed := extractJSONObject(raw)
	var out threadResponse
	err := json.Unmarshal([]byte(trimmed), &out)
	return out, err
}

// extractJSONObject strips a fenced code block wrapper if present; no
// further repair is attempted here (the full brace-counting extractor
// lives in internal/validate, which governs the final digest response).
func extractJSONObject(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func latestReceivedAt(t domain.Thread) time.Time {
	var latest time.Time
	for _, m := range t.Messages {
		if m.ReceivedAt.After(latest) {
			latest = m.ReceivedAt
		}
	}
	return latest
}

// shrinkToCap enforces final_input_token_cap by considering threads with
// non-empty pending actions/deadlines first and dropping any summary that
// would push the running total over cap; the first summary is always kept
// (spec §4.6 "Final aggregation").
func shrinkToCap(summaries []ThreadSummary, cap int) []ThreadSummary {
	if cap <= 0 {
		return summaries
	}
	withActions := make([]ThreadSummary, 0, len(summaries))
	withoutActions := make([]ThreadSummary, 0, len(summaries))
	for _, s := range summaries {
		if len(s.PendingActions) > 0 {
			withActions = append(withActions, s)
		} else {
			withoutActions = append(withoutActions, s)
		}
	}

	ordered := append(withActions, withoutActions...)
	total := 0
	var out []ThreadSummary
	for _, s := range ordered {
		cost := estimateTokens(s)
		if total+cost > cap && len(out) > 0 {
			continue
		}
		total += cost
		out = append(out, s)
	}
	return out
}

func estimateTokens(s ThreadSummary) int {
	words := len(strings.Fields(s.Title))
	for _, c := range s.Citations {
		words += len(strings.Fields(c.Quote))
	}
	for _, a := range s.PendingActions {
		words += len(strings.Fields(a.Text))
	}
	return int(1.3 * float64(words))
}
