package summarize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/d1249/maildigest/internal/domain"
)

type fakeLLM struct {
	response string
	err      error
	calls    int
}

func (f *fakeLLM) Complete(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return domain.CompletionResponse{}, f.err
	}
	return domain.CompletionResponse{ResponseText: f.response, TokensIn: 10, TokensOut: 10}, nil
}

func sampleThread(id string) domain.Thread {
	return domain.Thread{
		ThreadID: id,
		Messages: []domain.Message{
			{MessageID: id + "-m1", ReceivedAt: time.Date(2024, 12, 15, 9, 0, 0, 0, time.UTC), Subject: "Budget review"},
		},
	}
}

func sampleChunk(id string) domain.EvidenceChunk {
	return domain.EvidenceChunk{
		EvidenceID:    "ev-" + id,
		MessageID:     id + "-m1",
		ThreadID:      id,
		Content:       "Please approve the budget by Friday.",
		PriorityScore: 0.9,
	}
}

func TestSummarizeThreadParsesValidResponse(t *testing.T) {
	llm := &fakeLLM{response: `{"title":"Budget approval needed","citations":[{"evidence_id":"ev-t1","quote":"approve the budget"}],"pending_actions":[{"text":"approve budget","evidence_id":"ev-t1","quote":"approve the budget by Friday","deadline":null}]}`}
	o := &Orchestrator{LLM: llm, PerThreadTimeout: time.Second}

	thread := sampleThread("t1")
	chunks := []domain.EvidenceChunk{sampleChunk("t1")}

	ts := o.summarizeThread(context.Background(), thread, chunks, map[string]domain.Message{})
	if ts.Degraded {
		t.Fatal("did not expect a degraded summary for a valid response")
	}
	if ts.Title != "Budget approval needed" {
		t.Fatalf("unexpected title: %q", ts.Title)
	}
	if len(ts.Citations) != 1 || len(ts.PendingActions) != 1 {
		t.Fatalf("expected 1 citation and 1 pending action, got %d/%d", len(ts.Citations), len(ts.PendingActions))
	}
}

func TestSummarizeThreadDegradesOnTransportError(t *testing.T) {
	llm := &fakeLLM{err: errors.New("connection reset")}
	o := &Orchestrator{LLM: llm, PerThreadTimeout: time.Second}

	thread := sampleThread("t2")
	chunks := []domain.EvidenceChunk{sampleChunk("t2")}

	ts := o.summarizeThread(context.Background(), thread, chunks, map[string]domain.Message{})
	if !ts.Degraded {
		t.Fatal("expected a degraded summary on transport error")
	}
	if len(ts.Citations) == 0 {
		t.Fatal("expected the degrade stub to carry at least one citation from the top chunk")
	}
}

func TestSummarizeThreadDegradesOnUnparseableResponse(t *testing.T) {
	llm := &fakeLLM{response: "not json at all"}
	o := &Orchestrator{LLM: llm, PerThreadTimeout: time.Second}

	thread := sampleThread("t3")
	chunks := []domain.EvidenceChunk{sampleChunk("t3")}

	ts := o.summarizeThread(context.Background(), thread, chunks, map[string]domain.Message{})
	if !ts.Degraded {
		t.Fatal("expected a degraded summary on unparseable response")
	}
}

func TestRunHierarchicalJoinsAllThreads(t *testing.T) {
	llm := &fakeLLM{response: `{"digest":"final"}`}
	o := &Orchestrator{LLM: llm, ParallelPool: 2, PerThreadTimeout: time.Second, FlatFinalTimeout: time.Second, Log: zerolog.Nop()}

	threads := []domain.Thread{sampleThread("a"), sampleThread("b"), sampleThread("c")}
	chunksByThread := map[string][]domain.EvidenceChunk{
		"a": {sampleChunk("a")},
		"b": {sampleChunk("b")},
		"c": {sampleChunk("c")},
	}

	raw, results, prompt, err := o.RunHierarchical(context.Background(), threads, chunksByThread, map[string]domain.Message{}, nil, 4000, "{}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw != `{"digest":"final"}` {
		t.Fatalf("unexpected final response: %q", raw)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 per-thread summaries, got %d", len(results))
	}
	if prompt == "" {
		t.Fatal("expected the final aggregation prompt to be returned for repair retries")
	}
}

func TestRepairAppendsValidationErrorAndRecallsModel(t *testing.T) {
	llm := &fakeLLM{response: `{"digest":"fixed"}`}
	o := &Orchestrator{LLM: llm, Log: zerolog.Nop()}

	out, err := o.Repair(context.Background(), "original prompt", errors.New("missing required field: quote"), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"digest":"fixed"}` {
		t.Fatalf("unexpected repaired response: %q", out)
	}
	if llm.calls != 1 {
		t.Fatalf("expected exactly one repair call, got %d", llm.calls)
	}
}

func TestShrinkToCapPrefersThreadsWithPendingActions(t *testing.T) {
	withAction := ThreadSummary{ThreadID: "x", PendingActions: []PendingAction{{Text: "do the thing"}}}
	withoutAction := ThreadSummary{ThreadID: "y", Title: "FYI only, nothing pending here at all really"}

	out := shrinkToCap([]ThreadSummary{withoutAction, withAction}, 1)
	if len(out) == 0 || out[0].ThreadID != "x" {
		t.Fatalf("expected the thread with pending actions to be kept first, got %+v", out)
	}
}
