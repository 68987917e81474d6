// Package graph defines the persistent store contract for decisions,
// participant stances, similarity edges and token totals, and exposes
// ErrNotFound, the sentinel returned when a requested row does not exist.
package graph

import (
	"context"
	"time"

	"github.com/ai-counsel/counsel/pkg/types"
)

// Store is the persistence contract for the decision graph. Single writer
// per database file is assumed; concurrent readers are allowed.
type Store interface {
	// SaveDecision atomically persists node and its stances: all-or-
	// nothing.
	SaveDecision(ctx context.Context, node types.DecisionNode, stances []types.ParticipantStance) error

	// GetDecisionNode returns the node with the given id, or
	// ErrNotFound.
	GetDecisionNode(ctx context.Context, id string) (*types.DecisionNode, error)

	// GetAllDecisions returns up to limit decisions (0 = no limit)
	// ordered by timestamp descending, optionally filtered to those
	// after since.
	GetAllDecisions(ctx context.Context, limit int, since *time.Time) ([]types.DecisionNode, error)

	// SaveSimilarity upserts an edge keyed by (source_id, target_id).
	SaveSimilarity(ctx context.Context, edge types.DecisionSimilarity) error

	// GetSimilarDecisions returns decisions similar to sourceID with
	// score >= minScore, ordered by score descending, capped at limit.
	GetSimilarDecisions(ctx context.Context, sourceID string, minScore float64, limit int) ([]types.ScoredDecision, error)

	// PruneSimilarities keeps only the top keepPerSource edges per
	// source_id, discarding the weakest.
	PruneSimilarities(ctx context.Context, keepPerSource int) error

	// IncrementSolutionTotals atomically upserts totals for solution,
	// incrementing DeliberationCount by 1 per call. split carries the
	// exact/estimated token breakdown directly so a deliberation whose
	// participants mix HTTP (exact) and CLI (estimated) adapters is
	// recorded under both columns rather than collapsed to one.
	IncrementSolutionTotals(ctx context.Context, solution string, split types.TokenSplit) error

	// GetSolutionTotals returns the current totals for solution, or
	// ErrNotFound if none recorded yet.
	GetSolutionTotals(ctx context.Context, solution string) (*types.SolutionTokenTotals, error)

	// Count returns the total number of decision nodes stored.
	Count(ctx context.Context) (int, error)

	// Close releases the underlying database handle.
	Close() error
}
