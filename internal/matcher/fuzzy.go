package matcher

import (
	"strings"
	"unicode"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TITLE SIMILARITY - Jaccard keyword overlap + normalized edit distance
// ═══════════════════════════════════════════════════════════════════════════════

// MatchThreshold is the minimum combined similarity for a title match.
const MatchThreshold = 0.72

// stopwords carry no matching signal in market titles.
var stopwords = map[string]bool{
	"will": true, "the": true, "a": true, "an": true, "be": true, "by": true,
	"in": true, "on": true, "at": true, "of": true, "to": true, "or": true,
	"and": true, "is": true, "for": true, "before": true, "after": true,
}

// Similarity returns the combined title similarity in [0,1]:
// 60% keyword-set Jaccard, 40% length-normalized Levenshtein.
func Similarity(a, b string) float64 {
	ja := jaccard(keywords(a), keywords(b))
	ed := editSimilarity(normalize(a), normalize(b))
	return 0.6*ja + 0.4*ed
}

func normalize(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			sb.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

func keywords(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(normalize(s)) {
		if len(w) > 1 && !stopwords[w] {
			out[w] = true
		}
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// editSimilarity is 1 − levenshtein/maxLen.
func editSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(maxLen)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
