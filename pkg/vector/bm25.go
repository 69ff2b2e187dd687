package vector

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Tokenize lowercases text and splits it into terms on anything that is
// not a letter or digit. It handles non-Latin scripts the same way, so
// Hebrew and Arabic content tokenizes on whitespace and punctuation.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ScoreBM25 ranks candidate hits against the query terms using BM25
// over the candidate set itself as the corpus. Hits whose content
// matches no query term are dropped; the rest are returned sorted by
// score descending with their Score fields set.
func ScoreBM25(terms []string, candidates []Hit) []Hit {
	if len(terms) == 0 || len(candidates) == 0 {
		return nil
	}

	docs := make([][]string, len(candidates))
	totalLen := 0
	for i, c := range candidates {
		content, _ := c.Payload["content"].(string)
		docs[i] = Tokenize(content)
		totalLen += len(docs[i])
	}
	avgLen := float64(totalLen) / float64(len(candidates))
	if avgLen == 0 {
		return nil
	}

	// Document frequency per query term.
	df := make(map[string]int, len(terms))
	for _, doc := range docs {
		seen := make(map[string]bool, len(doc))
		for _, tok := range doc {
			seen[tok] = true
		}
		for _, term := range terms {
			if seen[term] {
				df[term]++
			}
		}
	}

	n := float64(len(candidates))
	scored := make([]Hit, 0, len(candidates))
	for i, c := range candidates {
		tf := make(map[string]int, len(docs[i]))
		for _, tok := range docs[i] {
			tf[tok]++
		}

		score := 0.0
		for _, term := range terms {
			freq := float64(tf[term])
			if freq == 0 {
				continue
			}
			idf := math.Log(1 + (n-float64(df[term])+0.5)/(float64(df[term])+0.5))
			norm := freq * (bm25K1 + 1) / (freq + bm25K1*(1-bm25B+bm25B*float64(len(docs[i]))/avgLen))
			score += idf * norm
		}
		if score > 0 {
			c.Score = float32(score)
			scored = append(scored, c)
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	return scored
}
