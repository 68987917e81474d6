// Package jaccard implements token-set overlap similarity: the
// zero-dependency fallback guaranteed to be available.
package jaccard

import (
	"context"
	"strings"
)

// Backend computes Jaccard similarity over lowercased whitespace tokens.
type Backend struct{}

// New returns a Jaccard backend. It never fails to construct.
func New() *Backend {
	return &Backend{}
}

// Name identifies this backend for logging.
func (b *Backend) Name() string { return "jaccard" }

// ComputeSimilarity returns the Jaccard index of the token sets of a and b.
func (b *Backend) ComputeSimilarity(_ context.Context, a, b2 string) (float64, error) {
	if a == "" || b2 == "" {
		return 0, nil
	}
	if a == b2 {
		return 1, nil
	}

	setA := tokenSet(a)
	setB := tokenSet(b2)
	if len(setA) == 0 || len(setB) == 0 {
		return 0, nil
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0, nil
	}

	score := float64(intersection) / float64(union)
	return clamp01(score), nil
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
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
