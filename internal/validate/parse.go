// Package validate parses and validates the language model's textual
// response against the digest schema, then proves every item with
// citations (spec §4.7 "Validate & cite").
package validate

import (
	"strings"

	"github.com/d1249/maildigest/internal/apperr"
)

// ExtractJSON pulls the JSON object out of a raw model response. Accepted
// shapes, in order (spec §4.7 "Parse"): a bare JSON object; a JSON object
// inside a fenced code block; JSON followed by free text (captured
// separately as rendered prose via brace counting). No further repair
// (trailing-comma fixes, quote synthesis) is permitted.
func ExtractJSON(raw string) (jsonText string, trailingProse string, err error) {
	s := strings.TrimSpace(raw)

	if fenced, ok := stripFence(s); ok {
		s = fenced
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", "", apperr.New(apperr.KindParse, "no JSON object found in language model response")
	}

	end, ok := matchBrace(s, start)
	if !ok {
		return "", "", apperr.New(apperr.KindParse, "unbalanced braces in language model response")
	}

	jsonText = s[start : end+1]
	trailingProse = strings.TrimSpace(s[end+1:])
	return jsonText, trailingProse, nil
}

func stripFence(s string) (string, bool) {
	if !strings.HasPrefix(s, "```") {
		return s, false
	}
	rest := strings.TrimPrefix(s, "```json")
	rest = strings.TrimPrefix(rest, "```")
	if idx := strings.LastIndex(rest, "```"); idx >= 0 {
		rest = rest[:idx]
	}
	return strings.TrimSpace(rest), true
}

// matchBrace returns the index of the closing brace matching the opening
// brace at start, tracking string/escape state so braces inside JSON
// string values don't confuse the count.
func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
