package reconcile

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// foldString applies Unicode case folding. A cases.Caser is stateful,
// so each call uses its own.
func foldString(s string) string {
	return cases.Fold().String(s)
}

// NormalizeTarget canonicalizes a destination key. The send path and the
// storage path serialize the same logical destination differently: the
// store uses a service-qualified, semicolon-delimited key
// ("<service>;<mode>;<address>") while callers pass a bare address. Both
// forms reduce to the trailing address segment, case-folded.
func NormalizeTarget(key string) string {
	key = strings.TrimSpace(key)
	if i := strings.LastIndex(key, ";"); i >= 0 {
		key = key[i+1:]
	}
	return foldString(strings.TrimSpace(key))
}

// NormalizeText reduces message text to its comparable form: every
// whitespace rune removed, then Unicode case folding. No transliteration
// beyond that; ideographic text and emoji compare by code point.
func NormalizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return foldString(b.String())
}

// NormalizeAttachmentName folds an attachment base name (no extension)
// for comparison.
func NormalizeAttachmentName(name string) string {
	return foldString(name)
}
