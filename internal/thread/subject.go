// Package thread implements spec §4.2: deduplication by body checksum,
// reply-chain indexing, thread grouping (conversation_id > reply-chain >
// subject), and the character-trigram Jaccard semantic merge fallback.
package thread

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	rePrefix = regexp.MustCompile(`(?i)^\s*(re|fwd?|fw|ответ|отв|пересл|пер)\s*:\s*`)
	reExternalMarker = regexp.MustCompile(`(?i)\(\s*external\s*\)|\[\s*external\s*\]|\(\s*внешний\s*\)`)
	reBracketTag     = regexp.MustCompile(`\[[^\]]{1,40}\]`)
	reWhitespace     = regexp.MustCompile(`\s+`)
	reEmDashEnDash   = strings.NewReplacer("—", "-", "–", "-")
	reSmartQuotes    = strings.NewReplacer("“", "\"", "”", "\"", "‘", "'", "’", "'")
)

// NormalizeSubject removes nested Re:/Fwd:/Fw: prefixes (and Russian
// equivalents), external markers, bracketed tags, emoji, smart quotes, and
// normalizes dashes, case, and whitespace — in one pass, per spec §4.2.
//
// It is idempotent: NormalizeSubject(NormalizeSubject(s)) == NormalizeSubject(s).
func NormalizeSubject(s string) string {
	out := s
	for {
		trimmed := rePrefix.ReplaceAllString(out, "")
		if trimmed == out {
			break
		}
		out = trimmed
	}
	out = reExternalMarker.ReplaceAllString(out, "")
	out = reBracketTag.ReplaceAllString(out, "")
	out = stripEmoji(out)
	out = reSmartQuotes.Replace(out)
	out = reEmDashEnDash.Replace(out)
	out = norm.NFC.String(out)
	out = strings.ToLower(out)
	out = reWhitespace.ReplaceAllString(out, " ")
	out = strings.TrimSpace(out)
	// Removing a marker, tag or emoji can expose another Re:/Fwd: prefix.
	if rePrefix.MatchString(out) {
		return NormalizeSubject(out)
	}
	return out
}

// stripEmoji removes emoji code points (Unicode ranges commonly used for
// pictographs/symbols/dingbats/flags/supplemental symbols).
func stripEmoji(s string) string {
	var b strings.Builder
	for _, r := range s {
		if isEmoji(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r >= 0x2190 && r <= 0x21FF: // arrows, sometimes used decoratively
		return false
	case r == 0xFE0F || r == 0x200D: // variation selector, ZWJ
		return true
	case r >= 0x1F1E6 && r <= 0x1F1FF: // regional indicators (flags)
		return true
	default:
		return false
	}
}
