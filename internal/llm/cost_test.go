package llm

import "testing"

func TestCalculateCostKnownModel(t *testing.T) {
	got := CalculateCost("gpt-4o-mini", 1_000_000, 1_000_000)
	want := 0.15 + 0.60
	if got != want {
		t.Fatalf("got %f want %f", got, want)
	}
}

func TestCalculateCostUnknownModelFallsBackToDefault(t *testing.T) {
	got := CalculateCost("some-unlisted-model", 1_000_000, 0)
	want := perMillionTokenPrices["gpt-4o-mini"][0]
	if got != want {
		t.Fatalf("got %f want %f", got, want)
	}
}

func TestCostTrackerAccumulates(t *testing.T) {
	tracker := NewCostTracker()
	tracker.Track("gpt-4o-mini", 1000, 500)
	tracker.Track("gpt-4o-mini", 2000, 1000)

	stats := tracker.Stats()
	if stats.RequestCount != 2 {
		t.Fatalf("expected 2 requests, got %d", stats.RequestCount)
	}
	if stats.TotalTokens != 4500 {
		t.Fatalf("expected 4500 total tokens, got %d", stats.TotalTokens)
	}
	if stats.TotalCostUSD <= 0 {
		t.Fatalf("expected positive total cost, got %f", stats.TotalCostUSD)
	}
}

func TestModelSelectorDefaultsFinalToThread(t *testing.T) {
	s := NewModelSelector("gpt-4o-mini", "")
	if s.ForStage("final") != "gpt-4o-mini" {
		t.Fatalf("expected final model to default to thread model")
	}
	if s.ForStage("thread") != "gpt-4o-mini" {
		t.Fatalf("expected thread model to be gpt-4o-mini")
	}
}

func TestModelSelectorUsesDistinctFinalModel(t *testing.T) {
	s := NewModelSelector("gpt-4o-mini", "gpt-4o")
	if s.ForStage("final") != "gpt-4o" {
		t.Fatalf("expected final stage to use gpt-4o, got %s", s.ForStage("final"))
	}
}
