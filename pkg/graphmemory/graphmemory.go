// Package graphmemory implements the graph integration facade (C8):
// the only surface pkg/deliberation talks to for persisting a
// finished deliberation and retrieving relevant past context. It
// wires together pkg/graph (storage), pkg/cache (L1/L2), pkg/worker
// (the compute_similarities job) and pkg/retriever (context
// formatting) behind a small, best-effort API.
package graphmemory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ai-counsel/counsel/internal/log"
	"github.com/ai-counsel/counsel/pkg/cache"
	"github.com/ai-counsel/counsel/pkg/graph"
	"github.com/ai-counsel/counsel/pkg/retriever"
	"github.com/ai-counsel/counsel/pkg/similarity"
	"github.com/ai-counsel/counsel/pkg/types"
	"github.com/ai-counsel/counsel/pkg/worker"
)

// Config tunes the similarity-computation job and periodic monitoring
// hooks. Zero values fall back to the spec's suggested defaults.
type Config struct {
	SimilarityWindow int     // recent nodes compared against a new node; default 100 (spec range 50-100)
	KeepPerSource    int     // edges kept per source after pruning; default 50 (spec range 20-50)
	EdgeThreshold    float64 // minimum score to persist an edge; default 0.40
}

func (c Config) withDefaults() Config {
	if c.SimilarityWindow <= 0 {
		c.SimilarityWindow = 100
	}
	if c.KeepPerSource <= 0 {
		c.KeepPerSource = 50
	}
	if c.EdgeThreshold <= 0 {
		c.EdgeThreshold = 0.40
	}
	return c
}

// Metrics is the observability snapshot returned by GetGraphMetrics.
type Metrics struct {
	DecisionCount int           `json:"decision_count"`
	CacheStats    cache.Stats   `json:"cache_stats"`
	QueuePending  int           `json:"queue_pending"`
}

// Memory is the concrete C8 facade. Construct with New, which also
// registers the compute_similarities handler on queue — callers must
// still call queue.Start() themselves once all handlers are
// registered.
type Memory struct {
	store     graph.Store
	simCache  *cache.SimilarityCache
	queue     *worker.Queue
	retriever *retriever.Retriever
	backend   similarity.Backend
	cfg       Config
}

// New constructs a Memory and registers its background job handler on
// queue.
func New(store graph.Store, simCache *cache.SimilarityCache, queue *worker.Queue, retr *retriever.Retriever, backend similarity.Backend, cfg Config) *Memory {
	m := &Memory{
		store:     store,
		simCache:  simCache,
		queue:     queue,
		retriever: retr,
		backend:   backend,
		cfg:       cfg.withDefaults(),
	}
	queue.Register(worker.ComputeSimilarities, m.computeSimilarities)
	return m
}

// StoreDeliberation builds a DecisionNode + stances from result,
// persists them atomically, enqueues a similarity-computation job, and
// increments per-solution token totals. Must complete fast: everything
// after the atomic save is either queued work or a best-effort
// increment that never blocks the caller.
func (m *Memory) StoreDeliberation(ctx context.Context, question string, result *types.DeliberationResult) (string, error) {
	id := uuid.New().String()

	node := types.DecisionNode{
		ID:                id,
		Question:          question,
		Timestamp:         time.Now(),
		Consensus:         consensusOf(result),
		WinningOption:     winningOptionOf(result),
		ConvergenceStatus: convergenceStatusOf(result),
		Participants:      participantKeys(result.Participants),
		TranscriptPath:    result.TranscriptPath,
	}
	stances := buildStances(id, result)

	if err := m.store.SaveDecision(ctx, node, stances); err != nil {
		return "", fmt.Errorf("graphmemory: store_deliberation: %w", err)
	}

	m.simCache.InvalidateQueries()

	if _, err := m.queue.Enqueue(worker.ComputeSimilarities, id, 0); err != nil {
		log.Warn("graphmemory.enqueue_similarity_job_failed", zap.String("decision_id", id), zap.Error(err))
	}

	m.incrementTotals(ctx, node, result)
	m.checkPeriodicHooks(ctx)

	return id, nil
}

// GetContextForDeliberation delegates to the retriever and emits the
// spec's stable MEASUREMENT log line.
func (m *Memory) GetContextForDeliberation(ctx context.Context, question string) string {
	markdown, metrics := m.retriever.Retrieve(ctx, question)
	log.Info(fmt.Sprintf(
		"MEASUREMENT: question='%s', scored_results=%d, tier_distribution={strong:%d,moderate:%d,brief:%d}, tokens_used=%d/%d, db_size=%d",
		truncateForLog(question, 80),
		metrics.ScoredResults,
		metrics.TierCounts[retriever.TierStrongBand],
		metrics.TierCounts[retriever.TierModerateBand],
		metrics.TierCounts[retriever.TierBriefBand],
		metrics.TokensUsed, metrics.TokensBudget,
		metrics.DBSize))
	return markdown
}

// GetGraphMetrics returns counts and cache stats for observability.
func (m *Memory) GetGraphMetrics(ctx context.Context) (Metrics, error) {
	count, err := m.store.Count(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("graphmemory: get_graph_metrics: %w", err)
	}
	return Metrics{
		DecisionCount: count,
		CacheStats:    m.simCache.GetCacheStats(),
		QueuePending:  m.queue.Pending(),
	}, nil
}

// HealthCheck reports whether the store is reachable.
func (m *Memory) HealthCheck(ctx context.Context) error {
	if _, err := m.store.Count(ctx); err != nil {
		return fmt.Errorf("graphmemory: health_check: %w", err)
	}
	return nil
}

// computeSimilarities is the compute_similarities job handler: loads
// the new node, scores it against the most recent SimilarityWindow
// nodes, persists edges clearing EdgeThreshold, and prunes each
// source down to KeepPerSource edges.
func (m *Memory) computeSimilarities(ctx context.Context, job worker.Job) error {
	decisionID, ok := job.Payload.(string)
	if !ok {
		return fmt.Errorf("graphmemory: compute_similarities: payload is %T, want string", job.Payload)
	}

	node, err := m.store.GetDecisionNode(ctx, decisionID)
	if errors.Is(err, graph.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("graphmemory: compute_similarities: load node: %w", err)
	}

	candidates, err := m.store.GetAllDecisions(ctx, m.cfg.SimilarityWindow, nil)
	if err != nil {
		return fmt.Errorf("graphmemory: compute_similarities: load candidates: %w", err)
	}

	for _, cand := range candidates {
		if cand.ID == decisionID {
			continue
		}
		score, err := m.backend.ComputeSimilarity(ctx, node.Question, cand.Question)
		if err != nil {
			continue
		}
		score = types.Clamp01(score)
		if score < m.cfg.EdgeThreshold {
			continue
		}
		edge := types.DecisionSimilarity{SourceID: decisionID, TargetID: cand.ID, SimilarityScore: score, ComputedAt: time.Now()}
		if err := m.store.SaveSimilarity(ctx, edge); err != nil {
			log.Warn("graphmemory.save_similarity_failed", zap.String("decision_id", decisionID), zap.Error(err))
		}
	}

	if err := m.store.PruneSimilarities(ctx, m.cfg.KeepPerSource); err != nil {
		log.Warn("graphmemory.prune_similarities_failed", zap.Error(err))
	}
	m.simCache.InvalidateQueries()

	return nil
}

func (m *Memory) incrementTotals(ctx context.Context, node types.DecisionNode, result *types.DeliberationResult) {
	solution := node.WinningOption
	if solution == "" {
		solution = "unresolved"
	}
	split := types.TokenSplit{}
	if result.TokenStats != nil {
		split.ExactTokens = result.TokenStats.ExactTokens
		split.EstimatedTokens = result.TokenStats.EstimatedTokens
		split.CostUSD = result.TokenStats.TotalCostUSD
	}
	if err := m.store.IncrementSolutionTotals(ctx, solution, split); err != nil {
		log.Warn("graphmemory.increment_totals_failed", zap.String("solution", solution), zap.Error(err))
	}
}

// checkPeriodicHooks logs the spec's three monitoring lines at 100,
// 500, and 5000 stored decisions.
func (m *Memory) checkPeriodicHooks(ctx context.Context) {
	count, err := m.store.Count(ctx)
	if err != nil {
		return
	}
	switch {
	case count%5000 == 0:
		log.Warn("graphmemory.soft_archive_warning", zap.Int("decision_count", count))
	case count%500 == 0:
		log.Info("graphmemory.growth_trend", zap.Int("decision_count", count))
	case count%100 == 0:
		log.Info("graphmemory.stats", zap.Int("decision_count", count))
	}
}

func consensusOf(result *types.DeliberationResult) string {
	if result.Summary == nil {
		return ""
	}
	return result.Summary.Consensus
}

func winningOptionOf(result *types.DeliberationResult) string {
	if result.VotingResult == nil {
		return ""
	}
	return result.VotingResult.Winner
}

func convergenceStatusOf(result *types.DeliberationResult) types.ConvergenceStatus {
	if result.ConvergenceInfo == nil {
		return types.ConvergenceMaxRounds
	}
	return result.ConvergenceInfo.Status
}

func participantKeys(participants []types.Participant) []string {
	out := make([]string, len(participants))
	for i, p := range participants {
		out[i] = p.Key()
	}
	return out
}

// buildStances builds one ParticipantStance per participant from
// their last recorded response in the transcript.
func buildStances(decisionID string, result *types.DeliberationResult) []types.ParticipantStance {
	lastByParticipant := map[string]types.RoundResponse{}
	for _, r := range result.FullDebate {
		lastByParticipant[r.Participant] = r
	}

	stances := make([]types.ParticipantStance, 0, len(lastByParticipant))
	for participant, r := range lastByParticipant {
		stance := types.ParticipantStance{
			DecisionID:    decisionID,
			Participant:   participant,
			FinalPosition: truncateForLog(r.Response, 500),
		}
		if r.Vote != nil {
			stance.VoteOption = r.Vote.Option
			confidence := r.Vote.Confidence
			stance.Confidence = &confidence
			stance.Rationale = r.Vote.Rationale
		}
		stances = append(stances, stance)
	}
	return stances
}

func truncateForLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
