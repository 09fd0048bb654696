package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// PlainText strips markup from customer-supplied text, collapses runs of whitespace, and cuts the
// result to maxRunes (0 means no limit). Line breaks survive as single newlines.
func PlainText(value string, maxRunes int) string {
	cleaned := html.UnescapeString(strictPolicy.Sanitize(value))
	lines := strings.Split(strings.ReplaceAll(cleaned, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	out := strings.Join(kept, "\n")
	if maxRunes > 0 && utf8.RuneCountInString(out) > maxRunes {
		out = strings.TrimSpace(string([]rune(out)[:maxRunes]))
	}
	return out
}
