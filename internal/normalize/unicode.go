package normalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

var charReplacements = strings.NewReplacer(
	"‘", "'", "’", "'", // curly single quotes
	"“", "\"", "”", "\"", // curly double quotes
	"–", "-", "—", "--", // en dash, em dash
	" ", " ", // non-breaking space
	"​", "", "‌", "", "‍", "", "﻿", "", // zero-width chars
	"…", "...", // single-char ellipsis
)

// UnicodeNormalize applies canonical composition and the character
// replacements listed in spec §4.1 "Unicode normalization".
func UnicodeNormalize(s string) string {
	s = norm.NFC.String(s)
	return charReplacements.Replace(s)
}
