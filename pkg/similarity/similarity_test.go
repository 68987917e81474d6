package similarity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectFallsBackToTFIDFWithoutAPIKey(t *testing.T) {
	b := Select(context.Background(), Config{})
	assert.Equal(t, "tfidf", b.Name())
}

func TestFallbackIsJaccard(t *testing.T) {
	assert.Equal(t, "jaccard", Fallback().Name())
}
