// Package similarity provides pluggable scalar similarity over text pairs.
// Three backends are available, in preferred order: embedding (neural,
// highest quality), TF-IDF+cosine (good quality, light dependency), and
// Jaccard token-set overlap (zero-dependency fallback, always available).
package similarity

import (
	"context"

	"github.com/ai-counsel/counsel/internal/log"
	"github.com/ai-counsel/counsel/pkg/similarity/embedding"
	"github.com/ai-counsel/counsel/pkg/similarity/jaccard"
	"github.com/ai-counsel/counsel/pkg/similarity/tfidf"
	"go.uber.org/zap"
)

// Backend computes a symmetric [0,1] similarity score between two texts.
// Either input empty must yield 0.0; identical input must yield 1.0;
// non-finite intermediate scores must be clamped to 0.0.
type Backend interface {
	// Name identifies the backend for logging and the auto-selection log
	// line.
	Name() string
	// ComputeSimilarity scores a against b.
	ComputeSimilarity(ctx context.Context, a, b string) (float64, error)
}

// Config controls backend auto-selection.
type Config struct {
	// GeminiAPIKey, when non-empty, makes the embedding backend eligible
	// for selection.
	GeminiAPIKey string
	// EmbeddingModel overrides the default Gemini embedding model name.
	EmbeddingModel string
}

// Select performs the spec's auto-selection: the first backend whose
// dependency loads successfully is chosen at process start. The choice is
// logged exactly once and fixed for the run.
//
// Order: embedding (if GeminiAPIKey set and the client constructs), then
// TF-IDF (always constructs, pure Go), then Jaccard would be the final
// fallback but is unreachable today since TF-IDF never fails to
// construct — it remains in the registry for explicit selection and as
// the detector's defensive fallback if a backend later returns an error.
func Select(ctx context.Context, cfg Config) Backend {
	if cfg.GeminiAPIKey != "" {
		if b, err := embedding.New(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel); err == nil {
			log.Info("similarity backend selected", zap.String("backend", b.Name()))
			return b
		} else {
			log.Warn("embedding backend unavailable, falling back", zap.Error(err))
		}
	}

	b := tfidf.New()
	log.Info("similarity backend selected", zap.String("backend", b.Name()))
	return b
}

// Fallback returns the zero-dependency Jaccard backend, used by callers
// that need a guaranteed-available backend regardless of auto-selection
// (e.g. the convergence detector's degraded mode).
func Fallback() Backend {
	return jaccard.New()
}
