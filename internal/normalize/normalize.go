package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/d1249/maildigest/internal/apperr"
	"github.com/d1249/maildigest/internal/domain"
)

const maxBodySize = 200 * 1024 // 200 KiB, spec §3/§4.1

const truncationSentinel = "\n[TRUNCATED]"

// Options configures the Normalize stage.
type Options struct {
	MailboxTimezone *time.Location
	FailOnNaive     bool
	CleanPolicy     CleanPolicy
}

// Counters accumulates the observability counters this stage reports (spec
// §6): tz_naive_total, and the cleaner's parse/regex-failure counters.
type Counters struct {
	HTMLParseFallback int
	CleanerError      int
	TZNaive           int
}

// Normalize converts one raw driver record into a Message, or reports that
// the record should be skipped (pure autoresponse), per
// spec §4.1.
func Normalize(raw domain.RawRecord, opts Options, counters *Counters) (msg domain.Message, skip bool, err error) {
	text, usedFallback := HTMLToText(raw.BodyHTML, raw.BodyPlain)
	if raw.BodyHTML == "" {
		text = raw.BodyPlain
	}
	if usedFallback {
		counters.HTMLParseFallback++
	}

	text = UnicodeNormalize(text)

	cleaned := CleanEmailBody(text, raw.Headers, opts.CleanPolicy)
	if cleaned.IsAutoresponse {
		return domain.Message{}, true, nil
	}
	body := cleaned.Text

	truncated := false
	if len(body) > maxBodySize {
		body = truncateAtBoundary(body, maxBodySize) + truncationSentinel
		truncated = true
	}

	receivedAt := raw.ReceivedAt
	if receivedAt.IsZero() {
		return domain.Message{}, false, apperr.New(apperr.KindInputSchema, "raw record missing received_at")
	}
	if isNaiveHint(raw) {
		if opts.FailOnNaive {
			return domain.Message{}, false, apperr.ErrTZNaive
		}
		counters.TZNaive++
		if opts.MailboxTimezone != nil {
			receivedAt = time.Date(receivedAt.Year(), receivedAt.Month(), receivedAt.Day(),
				receivedAt.Hour(), receivedAt.Minute(), receivedAt.Second(), receivedAt.Nanosecond(),
				opts.MailboxTimezone)
		}
	}
	if opts.MailboxTimezone != nil {
		receivedAt = receivedAt.In(opts.MailboxTimezone)
	}

	sum := sha256.Sum256([]byte(body))
	checksum := hex.EncodeToString(sum[:])

	msg = domain.Message{
		MessageID:       normalizeMessageID(raw.ItemID, raw.Headers),
		ConversationID:  raw.ConversationID,
		ReceivedAt:      receivedAt,
		FromEmail:       strings.ToLower(strings.TrimSpace(raw.FromEmail)),
		FromName:        raw.FromName,
		ToEmails:        raw.ToEmails,
		CcEmails:        raw.CcEmails,
		Subject:         raw.Subject,
		BodyNormalized:  body,
		Truncated:       truncated,
		Importance:      raw.Importance,
		IsFlagged:       raw.IsFlagged,
		HasAttachments:  len(raw.AttachmentNames) > 0,
		AttachmentTypes: attachmentExtensions(raw.AttachmentNames),
		BodyChecksum:    checksum,
		InReplyTo:       raw.InReplyTo,
		References:      raw.References,
	}
	return msg, false, nil
}

// isNaiveHint reports whether the raw record's headers carry no timezone
// information, i.e. the "instant without a timezone" case from spec §4.1.
// The mailbox driver contract (spec §6) guarantees time.Time values, so the
// naive signal is surfaced via a sentinel header the driver sets when its
// wire representation lacked an offset.
func isNaiveHint(raw domain.RawRecord) bool {
	return raw.Headers["X-Naive-Timestamp"] == "true"
}

func normalizeMessageID(itemID string, headers map[string]string) string {
	id := headers["Message-ID"]
	if id == "" {
		id = headers["Message-Id"]
	}
	if id == "" {
		id = itemID
	}
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.ToLower(id)
}

func attachmentExtensions(names []string) []string {
	exts := make([]string, 0, len(names))
	for _, n := range names {
		if i := strings.LastIndex(n, "."); i >= 0 && i < len(n)-1 {
			exts = append(exts, strings.ToLower(n[i+1:]))
		}
	}
	return exts
}

// truncateAtBoundary truncates body to at most maxLen bytes, backing off to
// the last paragraph boundary (blank line) or sentence boundary, and never
// splitting a multibyte rune.
func truncateAtBoundary(body string, maxLen int) string {
	if len(body) <= maxLen {
		return body
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	if idx := strings.LastIndex(body[:cut], "\n\n"); idx > 0 {
		return body[:idx]
	}
	if idx := strings.LastIndexAny(body[:cut], ".!?"); idx > 0 {
		return body[:idx+1]
	}
	return body[:cut]
}
