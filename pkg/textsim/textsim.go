// Package textsim scores how alike two short free-text strings are.
package textsim

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Similarity returns (maxLen - distance) / maxLen over the normalized runes
// of a and b: 1 for identical text, 0 for nothing in common.
func Similarity(a, b string) float64 {
	a, b = Normalize(a), Normalize(b)
	if a == b {
		return 1
	}

	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}

	d := levenshtein.ComputeDistance(a, b)
	return float64(longest-d) / float64(longest)
}

// Normalize lower-cases s and collapses whitespace runs to single spaces.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

type Candidate struct {
	ID   string
	Text string
}

type Match struct {
	ID    string
	Score float64
}

// Best returns the highest scoring candidate at or above threshold.
func Best(text string, candidates []Candidate, threshold float64) (Match, bool) {
	var best Match
	found := false
	for _, c := range candidates {
		score := Similarity(text, c.Text)
		if score < threshold {
			continue
		}
		if !found || score > best.Score {
			best = Match{ID: c.ID, Score: score}
			found = true
		}
	}
	return best, found
}
