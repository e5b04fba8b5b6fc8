package assemble

import (
	"strings"
	"testing"

	"github.com/d1249/maildigest/internal/domain"
)

func TestRenderIncludesTitleAndQuote(t *testing.T) {
	d := domain.Digest{
		DigestDate: "2024-12-15",
		MyActions: []domain.DigestItem{{
			Title:        "Approve the budget",
			Quote:        "please approve the budget by friday",
			EmailSubject: "Q3 Budget",
			Citations:    []domain.Citation{{MessageID: "m1", Start: 0, End: 10}},
		}},
	}
	out := Render(d)
	if !strings.Contains(out, "Approve the budget") {
		t.Fatalf("expected title in rendered output, got:\n%s", out)
	}
	if !strings.Contains(out, "please approve the budget by friday") {
		t.Fatalf("expected quote in rendered output, got:\n%s", out)
	}
	if !strings.Contains(out, "source: Q3 Budget, evidence ev_") {
		t.Fatalf("expected citation reference in rendered output, got:\n%s", out)
	}
}

func TestRenderStaysUnderWordBudget(t *testing.T) {
	var items []domain.DigestItem
	for i := 0; i < 200; i++ {
		items = append(items, domain.DigestItem{
			Title: "A reasonably long action item title describing some work that needs doing",
			Quote: "this is a verbatim quote from the email body that is long enough to count",
		})
	}
	d := domain.Digest{DigestDate: "2024-12-15", MyActions: items}
	out := Render(d)
	if wordCount(out) > maxRenderedWords {
		t.Fatalf("expected rendered output to stay under %d words, got %d", maxRenderedWords, wordCount(out))
	}
}

func TestRenderOmitsEmptySections(t *testing.T) {
	d := domain.Digest{DigestDate: "2024-12-15"}
	out := Render(d)
	if strings.Contains(out, "My Actions") {
		t.Fatalf("did not expect an empty section header, got:\n%s", out)
	}
}
