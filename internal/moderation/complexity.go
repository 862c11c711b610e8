package moderation

import (
	"math"
	"strings"
)

// MaxComplexity caps the complexity score
const MaxComplexity = 100

// ComplexityScore estimates how dense a theory body reads, as
// floor(words/10 + wordsPerSentence*2) clamped to [0, MaxComplexity].
// Sentences are the non-empty segments between runs of '.', '!' and '?';
// a body with no terminator counts as one sentence.
func ComplexityScore(body string) int {
	words := len(strings.Fields(body))
	if words == 0 {
		return 0
	}

	sentences := 0
	for _, seg := range strings.FieldsFunc(body, isSentenceEnd) {
		if strings.TrimSpace(seg) != "" {
			sentences++
		}
	}
	if sentences == 0 {
		sentences = 1
	}

	avg := float64(words) / float64(sentences)
	score := int(math.Floor(float64(words)/10 + avg*2))
	if score > MaxComplexity {
		return MaxComplexity
	}
	if score < 0 {
		return 0
	}
	return score
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
