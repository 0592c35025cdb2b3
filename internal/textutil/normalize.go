package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Canonical returns text in NFC form with runs of whitespace collapsed to a
// single space and the ends trimmed. Two scene texts that render the same
// produce the same canonical string.
func Canonical(text string) string {
	composed := norm.NFC.String(text)
	return strings.Join(strings.FieldsFunc(composed, unicode.IsSpace), " ")
}

// EqualText reports whether two texts are equal after canonicalization.
func EqualText(a, b string) bool {
	return Canonical(a) == Canonical(b)
}

// WordCount returns the number of whitespace-separated words in text.
func WordCount(text string) int {
	return len(strings.FieldsFunc(text, unicode.IsSpace))
}

// Title converts snake/kebab labels such as "call_to_action" into display
// form ("Call To Action").
func Title(label string) string {
	label = strings.NewReplacer("_", " ", "-", " ").Replace(strings.TrimSpace(label))
	return cases.Title(language.Und).String(label)
}
