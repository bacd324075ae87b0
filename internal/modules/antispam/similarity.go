package antispam

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
)

// Similarity scores two texts in [0,1] by normalised edit distance over
// case-folded, trimmed text. Identical texts score 1; otherwise texts of a
// single rune or less score 0.
func Similarity(a, b string) float64 {
	a = normalize(a)
	b = normalize(b)
	if a == b {
		return 1
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la <= 1 || lb <= 1 {
		return 0
	}
	longest := la
	if lb > longest {
		longest = lb
	}
	distance := levenshtein.ComputeDistance(a, b)
	score := 1 - float64(distance)/float64(longest)
	if score < 0 {
		return 0
	}
	return score
}

func normalize(text string) string {
	// A Caser keeps state, so one is built per call.
	return cases.Fold().String(strings.TrimSpace(text))
}
