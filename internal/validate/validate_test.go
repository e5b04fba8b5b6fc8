package validate

import (
	"testing"
	"time"

	"github.com/d1249/maildigest/internal/domain"
)

func TestExtractJSONBareObject(t *testing.T) {
	got, prose, err := ExtractJSON(`{"a": 1}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"a": 1}` || prose != "" {
		t.Fatalf("got %q / %q", got, prose)
	}
}

func TestExtractJSONFencedBlock(t *testing.T) {
	got, _, err := ExtractJSON("```json\n{\"a\": 1}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"a": 1}` {
		t.Fatalf("got %q", got)
	}
}

func TestExtractJSONWithTrailingProse(t *testing.T) {
	got, prose, err := ExtractJSON(`{"a": 1} Here is a human-readable summary.`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"a": 1}` {
		t.Fatalf("got %q", got)
	}
	if prose != "Here is a human-readable summary." {
		t.Fatalf("got prose %q", prose)
	}
}

func TestExtractJSONNoObjectIsError(t *testing.T) {
	if _, _, err := ExtractJSON("no json here"); err == nil {
		t.Fatal("expected an error when no JSON object is present")
	}
}

func TestExtractJSONBracesInsideStringsDoNotConfuseDepth(t *testing.T) {
	got, _, err := ExtractJSON(`{"quote": "use curly braces like {this} in code"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"quote": "use curly braces like {this} in code"}` {
		t.Fatalf("got %q", got)
	}
}

func validDigestJSON() string {
	return `{
		"my_actions": [{
			"title": "Approve budget",
			"quote": "please approve the budget by friday",
			"confidence": "high",
			"evidence_id": "ev1",
			"citations": [{"message_id": "m1", "start": 0, "end": 10, "preview": "0123456789"}]
		}]
	}`
}

func TestParseAndValidateAcceptsWellFormedDigest(t *testing.T) {
	wd, _, err := ParseAndValidate(validDigestJSON())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(wd.MyActions) != 1 {
		t.Fatalf("expected 1 my_actions item, got %d", len(wd.MyActions))
	}
}

func TestParseAndValidateRejectsShortQuote(t *testing.T) {
	bad := `{"my_actions": [{"title": "x", "quote": "short", "confidence": "high", "evidence_id": "ev1", "citations": [{"message_id": "m1", "start": 0, "end": 1, "preview": "0"}]}]}`
	if _, _, err := ParseAndValidate(bad); err == nil {
		t.Fatal("expected a schema validation error for a quote shorter than 10 chars")
	}
}

func TestParseAndValidateRejectsMissingCitations(t *testing.T) {
	bad := `{"my_actions": [{"title": "x", "quote": "this quote is long enough", "confidence": "high", "evidence_id": "ev1", "citations": []}]}`
	if _, _, err := ParseAndValidate(bad); err == nil {
		t.Fatal("expected a schema validation error for an item with no citations")
	}
}

func TestDueDateLabelToday(t *testing.T) {
	digestDate := time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC)
	due := digestDate.Add(10 * time.Hour).Format(time.RFC3339)
	if got := dueDateLabel(due, digestDate); got != domain.DueDateToday {
		t.Fatalf("got %s want today", got)
	}
}

func TestDueDateLabelTomorrow(t *testing.T) {
	digestDate := time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC)
	due := digestDate.Add(30 * time.Hour).Format(time.RFC3339)
	if got := dueDateLabel(due, digestDate); got != domain.DueDateTomorrow {
		t.Fatalf("got %s want tomorrow", got)
	}
}

func TestDueDateLabelNoneBeyondWindow(t *testing.T) {
	digestDate := time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC)
	due := digestDate.Add(72 * time.Hour).Format(time.RFC3339)
	if got := dueDateLabel(due, digestDate); got != domain.DueDateNone {
		t.Fatalf("got %s want none", got)
	}
}

func TestVerifyCitationsExactMatch(t *testing.T) {
	digest := domain.Digest{MyActions: []domain.DigestItem{{
		Title:     "Approve",
		Citations: []domain.Citation{{MessageID: "m1", Start: 0, End: 5, Preview: "hello"}},
	}}}
	bodies := map[string]string{"m1": "hello world"}
	if errs := VerifyCitations(digest, bodies); len(errs) != 0 {
		t.Fatalf("expected no errors, got %+v", errs)
	}
}

func TestVerifyCitationsWhitespaceTolerant(t *testing.T) {
	digest := domain.Digest{MyActions: []domain.DigestItem{{
		Title:     "Approve",
		Citations: []domain.Citation{{MessageID: "m1", Start: 0, End: 11, Preview: "hello  world"}},
	}}}
	bodies := map[string]string{"m1": "hello world"}
	if errs := VerifyCitations(digest, bodies); len(errs) != 0 {
		t.Fatalf("expected whitespace-only mismatch to be tolerated, got %+v", errs)
	}
}

func TestVerifyCitationsRejectsRealMismatch(t *testing.T) {
	digest := domain.Digest{MyActions: []domain.DigestItem{{
		Title:     "Approve",
		Citations: []domain.Citation{{MessageID: "m1", Start: 0, End: 5, Preview: "HELLO"}},
	}}}
	bodies := map[string]string{"m1": "hello world"}
	errs := VerifyCitations(digest, bodies)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error for a real mismatch, got %d", len(errs))
	}
}

func TestApplyCitationPolicyPromotesWhenFlagSet(t *testing.T) {
	errs := []CitationError{{Reason: "preview mismatch"}}
	if err := ApplyCitationPolicy(errs, true); err == nil {
		t.Fatal("expected a hard failure when --validate-citations is set")
	}
	if err := ApplyCitationPolicy(errs, false); err != nil {
		t.Fatalf("expected no hard failure when the flag is unset, got %v", err)
	}
}
