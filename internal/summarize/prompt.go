package summarize

import (
	"fmt"
	"strings"

	"github.com/d1249/maildigest/internal/domain"
)

// chunkHeader renders the per-chunk header line the flat and per-thread
// prompts both use (spec §4.6 "per-chunk headers").
func chunkHeader(c domain.EvidenceChunk, m domain.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "evidence_id=%s message_id=%s thread_id=%s from=%s to=%s cc=%s subject=%q received_at=%s importance=%s flagged=%v attachments=%v addressed_to_me=%v imperative=%v deadline=%v question=%v mention=%v",
		c.EvidenceID, c.MessageID, c.ThreadID, m.FromEmail,
		strings.Join(m.ToEmails, ";"), strings.Join(m.CcEmails, ";"),
		m.Subject, m.ReceivedAt.Format("2006-01-02T15:04:05Z07:00"), m.Importance,
		m.IsFlagged, m.HasAttachments, c.Signals.MentionsUserAlias,
		c.Signals.HasImperativeVerb, c.Signals.HasDeadline, c.Signals.HasQuestionMark, c.Signals.MentionsUserAlias)
	return b.String()
}

// BuildFlatPrompt builds the single prompt used in flat mode: every selected
// chunk, each preceded by its header (spec §4.6 "Flat mode").
func BuildFlatPrompt(chunks []domain.EvidenceChunk, messages map[string]domain.Message, digestSchema string) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\nRespond with a single JSON object matching this schema:\n")
	b.WriteString(digestSchema)
	b.WriteString("\n\nEvidence chunks:\n\n")
	for _, c := range chunks {
		m := messages[c.MessageID]
		b.WriteString(chunkHeader(c, m))
		b.WriteString("\n")
		b.WriteString(c.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

// BuildThreadPrompt builds the per-thread summarization prompt for
// hierarchical mode's first stage (spec §4.6 "Per-thread summarization").
func BuildThreadPrompt(thread domain.Thread, chunks []domain.EvidenceChunk, messages map[string]domain.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nSummarize this single email thread (%d messages). Respond with JSON:\n", threadPreamble, len(thread.Messages))
	b.WriteString(threadResponseSchema)
	b.WriteString("\n\nThread chunks:\n\n")
	for _, c := range chunks {
		m := messages[c.MessageID]
		b.WriteString(chunkHeader(c, m))
		b.WriteString("\n")
		b.WriteString(c.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

// BuildFinalPrompt concatenates the per-thread summaries (for large threads)
// and the raw chunks (for bypassed small threads) into the final
// aggregation prompt (spec §4.6 "Final aggregation").
func BuildFinalPrompt(threadSummaries []ThreadSummary, bypassedChunks []domain.EvidenceChunk, messages map[string]domain.Message, digestSchema string) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\nRespond with a single JSON object matching this schema:\n")
	b.WriteString(digestSchema)
	b.WriteString("\n\nThread summaries:\n\n")
	for _, ts := range threadSummaries {
		fmt.Fprintf(&b, "Thread %s: %s\n", ts.ThreadID, ts.Title)
		for _, c := range ts.Citations {
			fmt.Fprintf(&b, "  citation %s: %q\n", c.EvidenceID, c.Quote)
		}
		for _, a := range ts.PendingActions {
			fmt.Fprintf(&b, "  pending %s: %q\n", a.EvidenceID, a.Text)
		}
		b.WriteString("\n")
	}
	if len(bypassedChunks) > 0 {
		b.WriteString("Small-thread raw chunks:\n\n")
		for _, c := range bypassedChunks {
			m := messages[c.MessageID]
			b.WriteString(chunkHeader(c, m))
			b.WriteString("\n")
			b.WriteString(c.Content)
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

const systemPreamble = `You produce a daily corporate-email digest. Ground every item in a real evidence_id and a verbatim quote of at least 10 characters. Never invent content not present in the evidence below.`

const threadPreamble = `You summarize a single email thread for inclusion in a larger digest.`

const threadResponseSchema = `{
  "title": "string, <= 90 tokens",
  "citations": [{"evidence_id": "string", "quote": "string, <= 150 chars"}],
  "pending_actions": [{"text": "string", "evidence_id": "string", "quote": "string, >= 10 chars", "deadline": "ISO-8601 or null"}]
}`

// DigestSchema describes the final digest envelope's JSON shape, quoted
// verbatim into the final-aggregation and flat-mode prompts (spec §4.7
// "Schema"). It mirrors internal/validate's wireDigest struct tags.
const DigestSchema = `{
  "my_actions": [DigestItem...],
  "others_actions": [DigestItem...],
  "deadlines_meetings": [DigestItem...],
  "risks_blockers": [DigestItem...],
  "fyi": [DigestItem...]
}
where DigestItem is:
{
  "title": "string, required",
  "description": "string, optional",
  "quote": "string, required, >= 10 chars, verbatim from the cited evidence",
  "owners": ["string", ...],
  "participants": ["string", ...],
  "due_date": "ISO-8601 date, optional",
  "due_date_normalized": "ISO-8601 datetime with timezone offset, optional",
  "confidence": "high|medium|low, required",
  "email_subject": "string",
  "evidence_id": "string, required, must match a real evidence_id above",
  "citations": [{"message_id": "string", "start": int, "end": int, "preview": "string, required"}]
}`
