// Package similarity holds the scoring primitives shared by the store
// backends and the ranker: cosine similarity over embeddings and trigram
// similarity over search text.
package similarity

import (
	"strings"
	"unicode"
)

// Trigrams returns the set of trigrams in s using pg_trgm's rules: the text is
// lowercased and split into alphanumeric words, and each word is padded with
// two leading spaces and one trailing space before trigrams are taken.
func Trigrams(s string) map[string]struct{} {
	set := make(map[string]struct{})
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		padded := []rune("  " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			set[string(padded[i:i+3])] = struct{}{}
		}
	}
	return set
}

// Trigram returns the ratio of shared trigrams to the union of trigrams of a
// and b, matching pg_trgm's similarity(). The result is in [0, 1]; it is 0
// when neither string contains a word.
func Trigram(a, b string) float64 {
	ta, tb := Trigrams(a), Trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(ta)+len(tb)-shared)
}
