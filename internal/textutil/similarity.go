package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

var folder = cases.Fold()

// Words splits text into case-folded words, dropping punctuation.
func Words(text string) []string {
	folded := folder.String(Canonical(text))
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// Similarity scores how much of two scene texts survives an edit, from 0
// (nothing shared) to 1 (same words in the same order). It is the Dice
// coefficient over word unigrams and bigrams, so reordering lowers the score
// even when the vocabulary is unchanged. Texts equal after canonicalization
// score 1 even when they have no words.
func Similarity(a, b string) float64 {
	if EqualText(a, b) {
		return 1
	}
	left, right := shingles(Words(a)), shingles(Words(b))
	total := left.size + right.size
	if total == 0 {
		return 0
	}
	shared := 0
	for gram, n := range left.counts {
		shared += min(n, right.counts[gram])
	}
	return 2 * float64(shared) / float64(total)
}

type shingleSet struct {
	counts map[string]int
	size   int
}

func shingles(words []string) shingleSet {
	set := shingleSet{counts: make(map[string]int, 2*len(words))}
	for i, word := range words {
		set.counts[word]++
		set.size++
		if i > 0 {
			set.counts[words[i-1]+" "+word]++
			set.size++
		}
	}
	return set
}
