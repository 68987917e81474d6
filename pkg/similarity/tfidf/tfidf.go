// Package tfidf implements TF-IDF + cosine similarity over the two-document
// corpus formed by a single pair call. No suitable third-party Go TF-IDF
// library exists anywhere in the reference corpus this module was built
// from, so this backend is intentionally stdlib-only (see DESIGN.md).
package tfidf

import (
	"context"
	"math"
	"strings"
)

// Backend computes TF-IDF + cosine similarity. It never fails to
// construct: it is pure Go with no external dependency.
type Backend struct{}

// New returns a TF-IDF backend.
func New() *Backend {
	return &Backend{}
}

// Name identifies this backend for logging.
func (b *Backend) Name() string { return "tfidf" }

// ComputeSimilarity scores a against b using TF-IDF vectors built over the
// two-document corpus {a, b}, then cosine distance between the vectors.
func (b *Backend) ComputeSimilarity(_ context.Context, a, b2 string) (float64, error) {
	if a == "" || b2 == "" {
		return 0, nil
	}
	if a == b2 {
		return 1, nil
	}

	docs := [][]string{tokenize(a), tokenize(b2)}
	if len(docs[0]) == 0 || len(docs[1]) == 0 {
		return 0, nil
	}

	df := documentFrequency(docs)
	n := float64(len(docs))

	vecA := tfidfVector(docs[0], df, n)
	vecB := tfidfVector(docs[1], df, n)

	score := cosine(vecA, vecB)
	return clamp01(score), nil
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func documentFrequency(docs [][]string) map[string]int {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, tok := range doc {
			if !seen[tok] {
				seen[tok] = true
				df[tok]++
			}
		}
	}
	return df
}

func tfidfVector(doc []string, df map[string]int, nDocs float64) map[string]float64 {
	tf := make(map[string]float64)
	for _, tok := range doc {
		tf[tok]++
	}
	n := float64(len(doc))

	vec := make(map[string]float64, len(tf))
	for tok, count := range tf {
		termFreq := count / n
		// +1 smoothing avoids a zero/undefined idf when a term appears in
		// every document of the pair.
		idf := math.Log(nDocs/float64(df[tok])) + 1
		vec[tok] = termFreq * idf
	}
	return vec
}

func cosine(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for tok, va := range a {
		normA += va * va
		if vb, ok := b[tok]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
