// Package slug turns product labels into ASCII strings safe for URLs,
// filenames, and EXIF ASCII fields.
package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fallback is returned by Make when nothing usable remains.
const Fallback = "shoe"

// Fold strips diacritics ("Über" -> "Uber") and drops any remaining
// non-ASCII runes.
func Fold(s string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Remove(runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII })),
		norm.NFC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Make lowercases and folds s, then joins its alphanumeric runs with "-".
func Make(s string) string {
	folded := strings.ToLower(Fold(s))
	var b strings.Builder
	pending := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('-')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	if b.Len() == 0 {
		return Fallback
	}
	return b.String()
}
