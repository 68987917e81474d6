// Package retriever implements the budget-aware tiered context
// retriever (C7): candidate selection with an adaptive top-k, tiering
// by similarity score, and token-budgeted markdown formatting of past
// decisions for injection into round-1 prompts.
package retriever

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/ai-counsel/counsel/pkg/cache"
	"github.com/ai-counsel/counsel/pkg/graph"
	"github.com/ai-counsel/counsel/pkg/similarity"
	"github.com/ai-counsel/counsel/pkg/types"
)

// embeddingBackend is implemented by similarity backends that can expose
// raw embeddings (currently only pkg/similarity/embedding.Backend). When
// the configured backend satisfies it, computeCandidates scores through
// the L2 embedding cache instead of recomputing an embedding per pair.
type embeddingBackend interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
}

// NoiseFloor is the minimum similarity score for a candidate to be
// considered relevant at all.
const NoiseFloor = 0.40

// Config tunes retrieval. Zero values fall back to spec defaults.
type Config struct {
	QueryWindow        int     // default 1000
	TierStrong         float64 // default 0.75
	TierModerate       float64 // default 0.60
	ContextTokenBudget int     // default 1500
}

func (c Config) withDefaults() Config {
	if c.QueryWindow <= 0 {
		c.QueryWindow = 1000
	}
	if c.TierStrong <= 0 {
		c.TierStrong = 0.75
	}
	if c.TierModerate <= 0 {
		c.TierModerate = 0.60
	}
	if c.ContextTokenBudget <= 0 {
		c.ContextTokenBudget = 1500
	}
	return c
}

// Tier is the relevance band a retrieved decision falls into.
type Tier string

const (
	TierStrongBand   Tier = "strong"
	TierModerateBand Tier = "moderate"
	TierBriefBand    Tier = "brief"
)

// Metrics reports what a single Retrieve call did, feeding the
// MEASUREMENT log line emitted by the facade.
type Metrics struct {
	CandidateCount int
	ScoredResults  int
	TierCounts     map[Tier]int
	TokensUsed     int
	TokensBudget   int
	DBSize         int
	BudgetReached  bool
}

// Retriever selects, tiers, and formats past decisions as markdown
// context for a new deliberation's question.
type Retriever struct {
	store   graph.Store
	cache   *cache.SimilarityCache
	backend similarity.Backend
	cfg     Config
}

// New constructs a Retriever. cache may be nil, in which case L1/L2
// lookups always miss and every call recomputes.
func New(store graph.Store, simCache *cache.SimilarityCache, backend similarity.Backend, cfg Config) *Retriever {
	return &Retriever{store: store, cache: simCache, backend: backend, cfg: cfg.withDefaults()}
}

type scored struct {
	node  types.DecisionNode
	score float64
}

// Retrieve returns the rendered markdown context for question, or the
// empty string if nothing clears the noise floor / fits the budget.
// Any retriever-internal error is swallowed and downgraded to empty
// context, per spec: context injection must never block a
// deliberation from proceeding.
func (r *Retriever) Retrieve(ctx context.Context, question string) (string, Metrics) {
	markdown, metrics, err := r.retrieve(ctx, question)
	if err != nil {
		return "", Metrics{TokensBudget: r.cfg.ContextTokenBudget}
	}
	return markdown, metrics
}

func (r *Retriever) retrieve(ctx context.Context, question string) (string, Metrics, error) {
	metrics := Metrics{TokensBudget: r.cfg.ContextTokenBudget, TierCounts: map[Tier]int{}}

	dbSize, err := r.store.Count(ctx)
	if err != nil {
		return "", metrics, fmt.Errorf("retriever: count: %w", err)
	}
	metrics.DBSize = dbSize

	questionHash := types.QuestionHash(question)
	key := cache.QueryKey{QuestionHash: questionHash, Threshold: NoiseFloor, MaxResults: cache.MaxResultsUnbounded}

	var candidates []scored
	if cached, ok := r.cacheGet(key); ok {
		candidates, err = r.hydrate(ctx, cached)
		if err != nil {
			return "", metrics, err
		}
	} else {
		candidates, err = r.computeCandidates(ctx, question, dbSize)
		if err != nil {
			return "", metrics, err
		}
		r.cacheSet(key, toScoredDecisions(candidates))
	}
	metrics.CandidateCount = dbSize
	metrics.ScoredResults = len(candidates)

	if len(candidates) == 0 {
		return "", metrics, nil
	}

	k := adaptiveK(dbSize)
	if k > len(candidates) {
		k = len(candidates)
	}
	top := candidates[:k]

	var sb strings.Builder
	tokensUsed := 0
	for _, c := range top {
		tier := tierFor(c.score, r.cfg)
		rendered := formatEntry(c.node, tier)
		cost := len(rendered) / 4

		if tokensUsed+cost > r.cfg.ContextTokenBudget {
			metrics.BudgetReached = true
			break
		}

		sb.WriteString(rendered)
		sb.WriteString("\n")
		tokensUsed += cost
		metrics.TierCounts[tier]++
	}
	metrics.TokensUsed = tokensUsed

	return strings.TrimRight(sb.String(), "\n"), metrics, nil
}

func (r *Retriever) cacheGet(key cache.QueryKey) ([]types.ScoredDecision, bool) {
	if r.cache == nil {
		return nil, false
	}
	return r.cache.GetQuery(key)
}

func (r *Retriever) cacheSet(key cache.QueryKey, results []types.ScoredDecision) {
	if r.cache == nil {
		return
	}
	r.cache.SetQuery(key, results)
}

func (r *Retriever) hydrate(ctx context.Context, results []types.ScoredDecision) ([]scored, error) {
	out := make([]scored, 0, len(results))
	for _, res := range results {
		node, err := r.store.GetDecisionNode(ctx, res.ID)
		if err == graph.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("retriever: hydrate %s: %w", res.ID, err)
		}
		out = append(out, scored{node: *node, score: res.Score})
	}
	return out, nil
}

func (r *Retriever) computeCandidates(ctx context.Context, question string, dbSize int) ([]scored, error) {
	window := r.cfg.QueryWindow
	if window > dbSize {
		window = 0 // GetAllDecisions treats limit<=0 as "no limit"
	}
	nodes, err := r.store.GetAllDecisions(ctx, window, nil)
	if err != nil {
		return nil, fmt.Errorf("retriever: get_all_decisions: %w", err)
	}

	embedder, usesEmbeddingCache := r.backend.(embeddingBackend)

	var questionVec pgvector.Vector
	if usesEmbeddingCache {
		questionVec, err = r.embedCached(ctx, embedder, question)
		if err != nil {
			usesEmbeddingCache = false // degrade to direct ComputeSimilarity for the rest of this call
		}
	}

	out := make([]scored, 0, len(nodes))
	for _, node := range nodes {
		var score float64
		var scoreErr error
		if usesEmbeddingCache {
			var nodeVec pgvector.Vector
			nodeVec, scoreErr = r.embedCached(ctx, embedder, node.Question)
			if scoreErr == nil {
				score = types.Clamp01(cosine(questionVec.Slice(), nodeVec.Slice()))
			}
		} else {
			score, scoreErr = r.backend.ComputeSimilarity(ctx, question, node.Question)
			score = types.Clamp01(score)
		}
		if scoreErr != nil {
			continue
		}
		if score < NoiseFloor {
			continue
		}
		out = append(out, scored{node: node, score: score})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out, nil
}

// embedCached looks up text's embedding in the L2 tier by question hash
// before falling back to embedder.Embed, populating the cache on a miss.
// Safe to call with a nil r.cache: every lookup simply misses.
func (r *Retriever) embedCached(ctx context.Context, embedder embeddingBackend, text string) (pgvector.Vector, error) {
	hash := types.QuestionHash(text)
	if r.cache != nil {
		if vec, ok := r.cache.GetEmbedding(hash); ok {
			return vec, nil
		}
	}
	vec, err := embedder.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	if r.cache != nil {
		r.cache.SetEmbedding(hash, vec)
	}
	return vec, nil
}

// cosine returns the cosine similarity of two equal-length float32
// vectors, mirroring pkg/similarity/embedding's scoring.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func toScoredDecisions(in []scored) []types.ScoredDecision {
	out := make([]types.ScoredDecision, len(in))
	for i, s := range in {
		out[i] = types.ScoredDecision{ID: s.node.ID, Score: s.score}
	}
	return out
}

// adaptiveK picks the top-k width based on total graph size: smaller
// graphs surface more candidates since each is individually scarcer.
func adaptiveK(totalDecisions int) int {
	switch {
	case totalDecisions < 100:
		return 5
	case totalDecisions < 1000:
		return 3
	default:
		return 2
	}
}

func tierFor(score float64, cfg Config) Tier {
	switch {
	case score >= cfg.TierStrong:
		return TierStrongBand
	case score >= cfg.TierModerate:
		return TierModerateBand
	default:
		return TierBriefBand
	}
}

func formatEntry(node types.DecisionNode, tier Tier) string {
	switch tier {
	case TierStrongBand:
		return formatStrong(node)
	case TierModerateBand:
		return formatModerate(node)
	default:
		return formatBrief(node)
	}
}

func formatStrong(node types.DecisionNode) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "### %s\n", node.Question)
	fmt.Fprintf(&sb, "- status: %s\n", node.ConvergenceStatus)
	fmt.Fprintf(&sb, "- consensus: %s\n", node.Consensus)
	if node.WinningOption != "" {
		fmt.Fprintf(&sb, "- winning option: %s\n", node.WinningOption)
	}
	for _, p := range node.Participants {
		fmt.Fprintf(&sb, "- %s participated\n", p)
	}
	return sb.String()
}

func formatModerate(node types.DecisionNode) string {
	return fmt.Sprintf("- %s — %s", truncate(node.Question, 80), truncate(node.Consensus, 120))
}

func formatBrief(node types.DecisionNode) string {
	return fmt.Sprintf("- %s → %s", truncate(node.Question, 40), truncate(node.Consensus, 40))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
