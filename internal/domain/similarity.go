package domain

import (
	"unicode/utf8"

	"github.com/hbollon/go-edlib"
)

// Similarity returns the Indel similarity ratio of a and b on a 0-100 scale:
// twice the longest common subsequence over the combined length. Two empty
// strings are identical.
func Similarity(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 100
	}
	return 100 * float64(2*edlib.LCS(a, b)) / float64(total)
}

// BestMatch scores value against every key and returns the best one. Ties go
// to the lexicographically smallest key, so keys must be sorted ascending.
func BestMatch(value string, keys []string) (string, float64, bool) {
	best, bestScore, found := "", -1.0, false
	for _, k := range keys {
		score := Similarity(value, k)
		if score > bestScore {
			best, bestScore, found = k, score, true
		}
	}
	return best, bestScore, found
}
