package validate

import (
	"strings"

	"github.com/d1249/maildigest/internal/apperr"
	"github.com/d1249/maildigest/internal/domain"
)

// CitationError records one citation that failed to prove its item (spec
// §4.7 "Citations").
type CitationError struct {
	Section   domain.Section
	ItemTitle string
	Citation  domain.Citation
	Reason    string
}

// VerifyCitations checks every item's citations against the normalized
// message bodies, keyed by message_id. A whitespace-only mismatch is
// tolerated; anything else is reported (spec §4.7 "a short fuzzy match on
// whitespace differences is allowed; any other mismatch is a validation
// failure").
func VerifyCitations(digest domain.Digest, bodies map[string]string) []CitationError {
	var errs []CitationError
	for _, sec := range digest.AllSections() {
		for _, item := range sec.Items {
			if len(item.Citations) == 0 {
				errs = append(errs, CitationError{Section: sec.Name, ItemTitle: item.Title, Reason: "item has no citations"})
				continue
			}
			for _, c := range item.Citations {
				if err := verifyOne(c, bodies); err != "" {
					errs = append(errs, CitationError{Section: sec.Name, ItemTitle: item.Title, Citation: c, Reason: err})
				}
			}
		}
	}
	return errs
}

func verifyOne(c domain.Citation, bodies map[string]string) string {
	if c.Start >= c.End {
		return "start >= end"
	}
	body, ok := bodies[c.MessageID]
	if !ok {
		return "unknown message_id"
	}
	if c.End > len(body) {
		return "end exceeds body length"
	}
	actual := body[c.Start:c.End]
	if actual == c.Preview {
		return ""
	}
	if collapseWhitespace(actual) == collapseWhitespace(c.Preview) {
		return ""
	}
	return "preview does not match body[start:end]"
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ApplyCitationPolicy turns citation errors into a hard failure when
// validateCitations is set (the --validate-citations CLI flag, spec §4.7 —
// "promotes citation errors to a hard failure, exit code 2"); otherwise the
// errors are only counted and the run continues.
func ApplyCitationPolicy(errs []CitationError, validateCitations bool) error {
	if len(errs) == 0 || !validateCitations {
		return nil
	}
	return apperr.Wrap(apperr.KindCitationMismatch, citationErrorSummary(errs), apperr.ErrCitationMismatch)
}

func citationErrorSummary(errs []CitationError) string {
	var b strings.Builder
	b.WriteString("citation validation failed: ")
	for i, e := range errs {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(string(e.Section))
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}
