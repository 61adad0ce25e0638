// Package similarity scores how close two texts are, combining a
// character-level sequence ratio, word-set overlap, and length proximity.
package similarity

import "strings"

// Signal weights. All three signals are always computed.
const (
	sequenceWeight = 0.5
	tokenWeight    = 0.3
	lengthWeight   = 0.2
)

// Score returns a similarity score in [0,1] for two texts. It is symmetric
// and deterministic: Score(a, b) == Score(b, a), and Score(a, a) == 1.0.
func Score(a, b string) float64 {
	ca := normalize(a)
	cb := normalize(b)

	seq := sequenceRatio([]rune(ca), []rune(cb))
	tok := tokenJaccard(ca, cb)
	length := lengthRatio(len(ca), len(cb))

	return sequenceWeight*seq + tokenWeight*tok + lengthWeight*length
}

// normalize lowercases, collapses internal whitespace, and trims.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// tokenJaccard computes the Jaccard index of the whitespace-split word sets.
// Both empty is a perfect match; exactly one empty never matches.
func tokenJaccard(a, b string) float64 {
	wa := wordSet(a)
	wb := wordSet(b)

	if len(wa) == 0 && len(wb) == 0 {
		return 1.0
	}
	if len(wa) == 0 || len(wb) == 0 {
		return 0.0
	}

	intersection := 0
	for w := range wa {
		if wb[w] {
			intersection++
		}
	}
	union := len(wa) + len(wb) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}

// lengthRatio is 1 - |la-lb|/max(la,lb), with two empty strings a perfect match.
func lengthRatio(la, lb int) float64 {
	maxLen := la
	if lb > la {
		maxLen = lb
	}
	if maxLen == 0 {
		return 1.0
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return 1.0 - float64(diff)/float64(maxLen)
}
