package rank

import (
	"testing"
	"time"

	"github.com/d1249/maildigest/internal/domain"
)

func TestIsServiceSenderByPrefix(t *testing.T) {
	m := domain.Message{FromEmail: "postmaster@corp.example"}
	if !IsServiceSender(m, []string{"postmaster@", "noreply@"}, nil) {
		t.Fatal("expected postmaster@ to be classified as a service sender")
	}
}

func TestIsServiceSenderByAutoSubmittedHeader(t *testing.T) {
	m := domain.Message{FromEmail: "alice@corp.example"}
	headers := map[string]string{"Auto-Submitted": "auto-replied"}
	if !IsServiceSender(m, nil, headers) {
		t.Fatal("expected Auto-Submitted header to mark a service sender")
	}
}

func TestIsServiceSenderFalseForRegularSender(t *testing.T) {
	m := domain.Message{FromEmail: "alice@corp.example", Subject: "Budget review"}
	if IsServiceSender(m, []string{"postmaster@"}, nil) {
		t.Fatal("did not expect a regular sender to be flagged")
	}
}

func TestScoreHigherForUserInToAndActionMarker(t *testing.T) {
	ref := time.Date(2024, 12, 15, 12, 0, 0, 0, time.UTC)
	base := Candidate{
		Message: domain.Message{
			ToEmails:   []string{"bob@corp.example"},
			ReceivedAt: ref.Add(-1 * time.Hour),
		},
		Chunk: domain.EvidenceChunk{Signals: domain.ChunkSignals{}},
	}
	withSignal := base
	withSignal.Message.ToEmails = []string{"alice@corp.example"}
	withSignal.Chunk.Signals.HasImperativeVerb = true

	low := Score(base, []string{"alice@corp.example"}, ref)
	high := Score(withSignal, []string{"alice@corp.example"}, ref)
	if high <= low {
		t.Fatalf("expected higher score for to+action-marker candidate: low=%f high=%f", low, high)
	}
}

func TestRecencyFactorDecaysToZero(t *testing.T) {
	ref := time.Date(2024, 12, 15, 12, 0, 0, 0, time.UTC)
	recent := recencyFactor(ref.Add(-1*time.Hour), ref)
	old := recencyFactor(ref.Add(-72*time.Hour), ref)
	if recent <= old {
		t.Fatalf("expected recent factor > old factor: recent=%f old=%f", recent, old)
	}
	if old != 0 {
		t.Fatalf("expected factor to floor at 0 beyond the 48h window, got %f", old)
	}
}

func TestSelectRespectsTokenBudget(t *testing.T) {
	candidates := []Candidate{
		{Chunk: domain.EvidenceChunk{TokenCount: 400}, RankScore: 0.9},
		{Chunk: domain.EvidenceChunk{TokenCount: 400}, RankScore: 0.8},
		{Chunk: domain.EvidenceChunk{TokenCount: 400}, RankScore: 0.1},
	}
	selected := Select(candidates, 900)
	total := 0
	for _, s := range selected {
		total += s.Chunk.TokenCount
	}
	if total > 900 {
		t.Fatalf("selected total %d exceeds budget 900", total)
	}
	if len(selected) != 2 {
		t.Fatalf("expected the two highest-scored candidates to fit, got %d", len(selected))
	}
}

func TestTop10ActionableShare(t *testing.T) {
	selected := []Scored{
		{Candidate{IsActionable: true}},
		{Candidate{IsActionable: true}},
		{Candidate{IsActionable: false}},
	}
	got := Top10ActionableShare(selected)
	want := 2.0 / 3.0
	if got != want {
		t.Fatalf("got %f want %f", got, want)
	}
}
