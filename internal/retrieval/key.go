package retrieval

import (
	"strings"
	"unicode"
)

// KeySeparator joins the alphanumeric runs of a normalized cache key.
const KeySeparator = "-"

// NormalizeKey lowercases query and collapses every run of characters that
// are not letters or digits into a single separator. Leading and trailing
// separators are dropped, so "Nike Air-Max 90!" and "nike air max 90" share
// the key "nike-air-max-90".
func NormalizeKey(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	pending := false
	for _, r := range strings.ToLower(query) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteString(KeySeparator)
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}
