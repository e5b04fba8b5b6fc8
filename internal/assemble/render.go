// Package assemble renders the digest envelope into its two persisted
// forms: the structured JSON document and a short human-readable view
// (spec §4.8 "Assemble & persist").
package assemble

import (
	"fmt"
	"strings"

	"github.com/d1249/maildigest/internal/chunk"
	"github.com/d1249/maildigest/internal/domain"
)

const maxRenderedWords = 400

// Render produces the ≤400-word human-readable document listing each item
// with its title, optional due/label, owners, a citation reference, and
// the quote (spec §4.8).
func Render(d domain.Digest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Digest for %s\n\n", d.DigestDate)

	budget := maxRenderedWords - wordCount(b.String())
	for _, sec := range d.AllSections() {
		if len(sec.Items) == 0 {
			continue
		}
		header := sectionTitle(sec.Name)
		if budget < wordCount(header) {
			break
		}
		b.WriteString(header)
		b.WriteString("\n")
		budget -= wordCount(header)

		for _, item := range sec.Items {
			line := renderItem(item)
			cost := wordCount(line)
			if cost > budget {
				break
			}
			b.WriteString(line)
			budget -= cost
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func sectionTitle(s domain.Section) string {
	switch s {
	case domain.SectionMyActions:
		return "My Actions"
	case domain.SectionOthersActions:
		return "Others' Actions"
	case domain.SectionDeadlinesMeetings:
		return "Deadlines & Meetings"
	case domain.SectionRisksBlockers:
		return "Risks & Blockers"
	case domain.SectionFYI:
		return "FYI"
	default:
		return string(s)
	}
}

func renderItem(item domain.DigestItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s", item.Title)
	if item.DueDate != "" {
		fmt.Fprintf(&b, " (due %s", item.DueDate)
		if item.DueDateLabel != domain.DueDateNone {
			fmt.Fprintf(&b, ", %s", item.DueDateLabel)
		}
		b.WriteString(")")
	}
	if len(item.Owners) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(item.Owners, ", "))
	}
	b.WriteString("\n")
	if ref := citationRef(item); ref != "" {
		fmt.Fprintf(&b, "  %s\n", ref)
	}
	if item.Quote != "" {
		fmt.Fprintf(&b, "  \"%s\"\n", item.Quote)
	}
	return b.String()
}

// citationRef renders "source: <subject>, evidence <evidence_id>" for the
// item's first citation (spec §4.8). evidence_id is recomputed
// deterministically from (message_id, start, end) since domain.Citation
// itself does not carry it.
func citationRef(item domain.DigestItem) string {
	if len(item.Citations) == 0 {
		return ""
	}
	c := item.Citations[0]
	evidenceID := chunk.EvidenceID(c.MessageID, c.Start, c.End)
	return fmt.Sprintf("source: %s, evidence %s", item.EmailSubject, evidenceID)
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
