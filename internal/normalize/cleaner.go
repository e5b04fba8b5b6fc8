// Package normalize implements spec §4.1: HTML→text, unicode
// normalization, the four-stage "email cleaner" (autoresponse, disclaimer,
// signature, quote removal), truncation, and timezone handling.
package normalize

import (
	"regexp"
	"strings"
)

// RemovedSpanType identifies which cleaner stage removed a span. Per spec
// §9 Open Question (c), removed spans are transient diagnostic data only —
// never persisted.
type RemovedSpanType string

const (
	SpanAutoresponse RemovedSpanType = "autoresponse"
	SpanDisclaimer   RemovedSpanType = "disclaimer"
	SpanSignature    RemovedSpanType = "signature"
	SpanQuote        RemovedSpanType = "quote"
)

// RemovedSpan records one span removed by the cleaner, in terms of the
// *output* (already-cleaned) body's offsets at the time of removal.
type RemovedSpan struct {
	Type    RemovedSpanType
	Start   int
	End     int
	Content string
}

// CleanPolicy configures the quote-removal safety valve (spec §4.1).
type CleanPolicy struct {
	KeepTopQuoteHead      int // paragraphs/lines of the most recent quote to retain
	MaxQuoteRemovalLength int // safety cap: never remove more than this many bytes
}

// CleanResult is the outcome of CleanEmailBody.
type CleanResult struct {
	Text           string
	RemovedSpans   []RemovedSpan
	IsAutoresponse bool // whole body was an autoresponse; message should be skipped
}

var autoresponseHeaders = map[string]bool{
	"auto-submitted": true,
	"x-autoreply":    true,
	"x-autorespond":  true,
}

var autoresponseBodyPatterns = regexp.MustCompile(`(?is)` + strings.Join([]string{
	`out\s+of\s+office`,
	`automatic\s+reply`,
	`delivery\s+status\s+notification`,
	`undeliverable`,
	`я\s+(в\s+отпуске|нахожусь\s+вне\s+офиса)`,
	`автоответ`,
	`недоставлено`,
}, "|"))

var disclaimerPatterns = regexp.MustCompile(`(?is)` + strings.Join([]string{
	`confidentiality\s+notice`,
	`this\s+e-?mail\s+(message\s+)?(is|and any files).{0,60}confidential`,
	`privacy\s+policy`,
	`unsubscribe`,
	`конфиденциальность`,
	`настоящее\s+сообщение.{0,80}конфиденциальн`,
}, "|"))

var signaturePatterns = regexp.MustCompile(`(?im)^[ \t]*(` + strings.Join([]string{
	`best\s+regards,?`,
	`kind\s+regards,?`,
	`sincerely,?`,
	`thanks(,|\s+and\s+regards)`,
	`sent\s+from\s+my\s+iphone`,
	`sent\s+from\s+my\s+android`,
	`с\s+уважением,?`,
	`с\s+наилучшими\s+пожеланиями,?`,
}, "|") + `)[ \t]*$`)

var quoteHeaderPatterns = regexp.MustCompile(`(?im)^(` + strings.Join([]string{
	`>.*`,
	`-{2,}\s*original\s+message\s*-{2,}`,
	`from:.*`,
	`от:.*`,
	`on\s.{1,80}\swrote:`,
}, "|") + `)$`)

// IsAutoresponse reports whether headers or the body indicate the message
// is an autoresponse that should be skipped entirely (spec §4.1 stage 1).
func IsAutoresponse(headers map[string]string, body string) bool {
	for k := range headers {
		if autoresponseHeaders[strings.ToLower(k)] {
			return true
		}
	}
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return false
	}
	match := autoresponseBodyPatterns.FindString(trimmed)
	// "Entire body is an autoresponse": the matched pattern dominates the
	// body (a short templated notice, not a human reply quoting one).
	return match != "" && len(trimmed) < 4*len(match)+50
}

// CleanEmailBody runs the four ordered removal stages described in spec
// §4.1. Offsets recorded on RemovedSpan are relative to the body *as it
// stood before that stage's removals*, matching how evidence_id offsets
// must reference the final cleaned body (spec scenario 4).
func CleanEmailBody(body string, headers map[string]string, policy CleanPolicy) CleanResult {
	if IsAutoresponse(headers, body) {
		return CleanResult{Text: body, IsAutoresponse: true}
	}

	result := CleanResult{Text: body}

	result.Text, result.RemovedSpans = stripTailPattern(result.Text, result.RemovedSpans, disclaimerPatterns, SpanDisclaimer)
	result.Text, result.RemovedSpans = stripSignature(result.Text, result.RemovedSpans)
	result.Text, result.RemovedSpans = stripQuotes(result.Text, result.RemovedSpans, policy)

	return result
}

// stripTailPattern removes the conservative tail of the body starting at
// the first match of pattern, provided the match lies in the final third
// of the body (disclaimers/unsubscribe blocks are always trailing).
func stripTailPattern(body string, spans []RemovedSpan, pattern *regexp.Regexp, typ RemovedSpanType) (string, []RemovedSpan) {
	loc := pattern.FindStringIndex(body)
	if loc == nil {
		return body, spans
	}
	if loc[0] < len(body)*2/3 {
		return body, spans
	}
	removed := body[loc[0]:]
	spans = append(spans, RemovedSpan{Type: typ, Start: loc[0], End: len(body), Content: removed})
	return strings.TrimRight(body[:loc[0]], " \t\n"), spans
}

func stripSignature(body string, spans []RemovedSpan) (string, []RemovedSpan) {
	loc := signaturePatterns.FindStringIndex(body)
	if loc == nil {
		return body, spans
	}
	// Anchor to a paragraph boundary: only strip if what follows is short
	// relative to the body (a true signature block, not a mid-body line
	// that happens to match).
	tail := body[loc[0]:]
	if len(tail) > 600 {
		return body, spans
	}
	spans = append(spans, RemovedSpan{Type: SpanSignature, Start: loc[0], End: len(body), Content: tail})
	return strings.TrimRight(body[:loc[0]], " \t\n"), spans
}

func stripQuotes(body string, spans []RemovedSpan, policy CleanPolicy) (string, []RemovedSpan) {
	loc := quoteHeaderPatterns.FindStringIndex(body)
	if loc == nil {
		return body, spans
	}

	keepHead := keepQuoteHead(body[loc[0]:], policy)
	removeStart := loc[0] + len(keepHead)
	if removeStart >= len(body) {
		return body, spans
	}

	removedLen := len(body) - removeStart
	maxRemoval := policy.MaxQuoteRemovalLength
	if maxRemoval <= 0 {
		maxRemoval = 100000
	}
	if removedLen > maxRemoval {
		// Safety cap tripped: removing this much risks losing the entire
		// body to a misfiring heuristic; leave the body uncut.
		return body, spans
	}

	removed := body[removeStart:]
	spans = append(spans, RemovedSpan{Type: SpanQuote, Start: removeStart, End: len(body), Content: removed})
	return strings.TrimRight(body[:removeStart], " \t\n"), spans
}

// keepQuoteHead returns the leading portion of the quoted tail to retain
// per policy.KeepTopQuoteHead (paragraphs, capped at 10 lines, whichever
// is smaller).
func keepQuoteHead(quotedTail string, policy CleanPolicy) string {
	n := policy.KeepTopQuoteHead
	if n <= 0 {
		return ""
	}
	lines := strings.SplitAfter(quotedTail, "\n")
	maxLines := 10
	paragraphs := 0
	var kept strings.Builder
	linesKept := 0
	for _, line := range lines {
		if linesKept >= maxLines || paragraphs >= n {
			break
		}
		kept.WriteString(line)
		linesKept++
		if strings.TrimSpace(line) == "" {
			paragraphs++
		}
	}
	return kept.String()
}
