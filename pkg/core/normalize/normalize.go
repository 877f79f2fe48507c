// Package normalize canonicalizes free-text company names and account labels
// so that lookups survive the spacing and casing noise found in disclosure
// data ("삼성 전자" vs "삼성전자", "AAA  Corp" vs "aaacorp").
package normalize

import (
	"strings"
	"unicode"
)

// Key lower-cases text and strips every whitespace rune. Idempotent:
// Key(Key(x)) == Key(x). Non-whitespace runes keep their relative order.
func Key(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Digits returns only the decimal digit runes of text, in order.
// "삼성전자 005930" -> "005930".
func Digits(text string) string {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CleanTicker strips every rune outside [A-Za-z0-9.-] and upper-cases the
// rest. US ticker symbols legitimately carry dots and dashes (BRK.B, BF-B).
func CleanTicker(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(unicode.ToUpper(r))
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}
