package archive

// #region imports
import (
	"strings"
	"unicode"
)

// #endregion

// #region stopwords

// stopwords contains common English words excluded from lexical ranking.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "do": true, "does": true, "did": true,
	"have": true, "has": true, "had": true, "be": true, "been": true,
	"being": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "can": true, "shall": true, "not": true,
	"no": true, "and": true, "or": true, "but": true, "if": true,
	"then": true, "than": true, "so": true, "as": true, "at": true,
	"by": true, "for": true, "from": true, "in": true, "into": true,
	"of": true, "on": true, "to": true, "with": true, "about": true,
	"up": true, "out": true, "it": true, "its": true, "this": true,
	"that": true, "what": true, "which": true, "who": true, "how": true,
	"when": true, "where": true, "why": true, "you": true, "me": true,
	"i": true, "my": true, "your": true, "we": true, "they": true,
	"he": true, "she": true, "her": true, "him": true, "us": true,
	"them": true,
}

// tokenize splits text into unique lowercase non-stopword tokens. Digits
// are kept so numeric anchors participate in lexical matching.
func tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool)
	var tokens []string
	for _, w := range words {
		if len(w) < 2 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		tokens = append(tokens, w)
	}
	return tokens
}

// overlapScore returns the fraction of query tokens present in doc.
func overlapScore(query, doc []string) float64 {
	if len(query) == 0 {
		return 0
	}
	set := make(map[string]bool, len(doc))
	for _, t := range doc {
		set[t] = true
	}
	shared := 0
	for _, t := range query {
		if set[t] {
			shared++
		}
	}
	return float64(shared) / float64(len(query))
}

// normalizeScores min-max scales scores into [0,1]. A flat input collapses
// to zeros so a degenerate dimension cannot dominate the hybrid rank.
func normalizeScores(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	minS, maxS := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < minS {
			minS = s
		}
		if s > maxS {
			maxS = s
		}
	}
	out := make([]float64, len(scores))
	if maxS-minS <= 1e-9 {
		return out
	}
	for i, s := range scores {
		out[i] = (s - minS) / (maxS - minS)
	}
	return out
}

// #endregion
