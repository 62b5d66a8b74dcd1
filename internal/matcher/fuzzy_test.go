package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarityIdentical(t *testing.T) {
	s := Similarity("Will Bitcoin hit $100k by December?", "Will Bitcoin hit $100k by December?")
	assert.InDelta(t, 1.0, s, 1e-9)
}

func TestSimilaritySameQuestionDifferentPhrasing(t *testing.T) {
	s := Similarity(
		"Will Bitcoin reach $100,000 by December 31?",
		"Bitcoin to reach $100000 by December 31",
	)
	assert.Greater(t, s, MatchThreshold)
}

func TestSimilarityUnrelated(t *testing.T) {
	s := Similarity(
		"Will the Lakers win the NBA championship?",
		"Will Ethereum flip Bitcoin this year?",
	)
	assert.Less(t, s, MatchThreshold)
}

func TestSimilarityCaseAndPunctuationInsensitive(t *testing.T) {
	a := Similarity("WILL TRUMP WIN PENNSYLVANIA?", "will trump win pennsylvania")
	assert.InDelta(t, 1.0, a, 1e-9)
}

func TestSimilarityEmpty(t *testing.T) {
	assert.Less(t, Similarity("", "Will Bitcoin hit $100k?"), MatchThreshold)
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 1, levenshtein("kitten", "mitten"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}

func TestKeywordsDropsStopwords(t *testing.T) {
	kw := keywords("Will the price of Bitcoin be above 67500")
	assert.False(t, kw["will"])
	assert.False(t, kw["the"])
	assert.True(t, kw["bitcoin"])
	assert.True(t, kw["67500"])
}
