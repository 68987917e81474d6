package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/robfig/cron/v3"

	"go.uber.org/zap"

	"github.com/ai-counsel/counsel/internal/log"
	"github.com/ai-counsel/counsel/pkg/types"
)

// MaxResultsUnbounded is the sentinel used in QueryKey when a query was
// issued without a max_results cap.
const MaxResultsUnbounded = 1000

// QueryKey identifies one L1 cache entry: the question asked, the
// similarity threshold applied, and the result cap requested.
type QueryKey struct {
	QuestionHash string
	Threshold    float64
	MaxResults   int
}

// Config sizes the two tiers. Zero values fall back to the spec's
// suggested defaults.
type Config struct {
	L1Capacity int           // default 150 (spec range 100-200)
	L1TTL      time.Duration // default 7 minutes (spec range 5-10 minutes)
	L2Capacity int           // default 500
}

func (c Config) withDefaults() Config {
	if c.L1Capacity <= 0 {
		c.L1Capacity = 150
	}
	if c.L1TTL <= 0 {
		c.L1TTL = 7 * time.Minute
	}
	if c.L2Capacity <= 0 {
		c.L2Capacity = 500
	}
	return c
}

// Stats reports hit/miss counters for both tiers plus the combined
// hit rate, returned by GetCacheStats.
type Stats struct {
	L1Hits           int64   `json:"l1_hits"`
	L1Misses         int64   `json:"l1_misses"`
	L2Hits           int64   `json:"l2_hits"`
	L2Misses         int64   `json:"l2_misses"`
	L1Size           int     `json:"l1_size"`
	L2Size           int     `json:"l2_size"`
	CombinedHitRate  float64 `json:"combined_hit_rate"`
}

// SimilarityCache is the decision graph's query-result and embedding
// cache. L1 holds ordered {id,score} lists keyed by the query shape
// and is wiped on any save_decision; L2 holds decoded embeddings
// keyed by question_hash with no expiry, since embeddings are
// immutable for a given model/version.
type SimilarityCache struct {
	l1 *lru[QueryKey, []types.ScoredDecision]
	l2 *lru[string, pgvector.Vector]

	cron *cron.Cron
}

// New constructs a SimilarityCache sized per cfg.
func New(cfg Config) *SimilarityCache {
	cfg = cfg.withDefaults()
	return &SimilarityCache{
		l1: newLRU[QueryKey, []types.ScoredDecision](cfg.L1Capacity, cfg.L1TTL),
		l2: newLRU[string, pgvector.Vector](cfg.L2Capacity, 0),
	}
}

// GetQuery returns the cached {id,score} list for key, if present and
// unexpired.
func (c *SimilarityCache) GetQuery(key QueryKey) ([]types.ScoredDecision, bool) {
	return c.l1.get(key)
}

// SetQuery caches the {id,score} list for key.
func (c *SimilarityCache) SetQuery(key QueryKey, results []types.ScoredDecision) {
	c.l1.set(key, results)
}

// InvalidateQueries wipes the entire L1 tier. Called on every
// save_decision so stale result lists are never served.
func (c *SimilarityCache) InvalidateQueries() {
	c.l1.clear()
}

// GetEmbedding returns the cached embedding vector for questionHash,
// keyed to a specific embedding model/version by the caller
// (embeddingVersion should be folded into questionHash upstream when
// the model changes).
func (c *SimilarityCache) GetEmbedding(questionHash string) (pgvector.Vector, bool) {
	return c.l2.get(questionHash)
}

// SetEmbedding caches vec for questionHash. Embeddings never expire
// within a process lifetime; a model/version change must be reflected
// in the key by the caller, not by an eviction policy here.
func (c *SimilarityCache) SetEmbedding(questionHash string, vec pgvector.Vector) {
	c.l2.set(questionHash, vec)
}

// GetCacheStats reports hit/miss counters for both tiers and the
// combined hit rate across both.
func (c *SimilarityCache) GetCacheStats() Stats {
	l1Hits, l1Misses, l1Size := c.l1.stats()
	l2Hits, l2Misses, l2Size := c.l2.stats()

	total := l1Hits + l1Misses + l2Hits + l2Misses
	var combined float64
	if total > 0 {
		combined = float64(l1Hits+l2Hits) / float64(total)
	}

	return Stats{
		L1Hits:          l1Hits,
		L1Misses:        l1Misses,
		L2Hits:          l2Hits,
		L2Misses:        l2Misses,
		L1Size:          l1Size,
		L2Size:          l2Size,
		CombinedHitRate: combined,
	}
}

// Start launches the cron job that sweeps expired L1 entries once a
// minute, so entries past their wall-clock TTL don't linger between
// queries even absent an invalidating write. No-op if already started.
func (c *SimilarityCache) Start() {
	if c.cron != nil {
		return
	}
	c.cron = cron.New()
	_, err := c.cron.AddFunc("@every 1m", func() {
		removed := c.l1.sweepExpired()
		if removed > 0 {
			log.Debug("cache.l1_ttl_sweep", zap.Int("removed", removed))
		}
	})
	if err != nil {
		log.Error("cache.sweep_schedule_failed", zap.Error(err))
		c.cron = nil
		return
	}
	c.cron.Start()
}

// Stop halts the TTL sweep job, waiting for any in-flight run to
// finish.
func (c *SimilarityCache) Stop(ctx context.Context) error {
	if c.cron == nil {
		return nil
	}
	stopCtx := c.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cache: stop timed out: %w", ctx.Err())
	}
}
