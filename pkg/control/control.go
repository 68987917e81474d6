// Package control implements the control plane (C11): the three
// host-facing verbs (deliberate, query_decisions — resume_deliberation
// is absent, see DESIGN.md) as plain, concurrently callable Go
// methods. The actual MCP transport lives outside this package; a host
// such as cmd/counseld translates wire requests into these calls.
package control

import (
	"context"
	"fmt"
	"sort"

	"github.com/ai-counsel/counsel/pkg/deliberation"
	"github.com/ai-counsel/counsel/pkg/errs"
	"github.com/ai-counsel/counsel/pkg/graph"
	"github.com/ai-counsel/counsel/pkg/similarity"
	"github.com/ai-counsel/counsel/pkg/types"
)

const (
	defaultRounds = 2
	defaultLimit  = 10
)

// DeliberateRequest is the deliberate verb's input.
type DeliberateRequest struct {
	Question     string              `json:"question"`
	Participants []types.Participant `json:"participants"`
	Rounds       int                 `json:"rounds"`
	Mode         types.Mode          `json:"mode"`
	Context      string              `json:"context,omitempty"`
}

// QueryDecisionsRequest is the query_decisions verb's input. Threshold
// is retained for backward compatibility with older clients; when set
// (clamped to [0,1]) it replaces the retriever's noise floor as the
// minimum score.
type QueryDecisionsRequest struct {
	QueryText string   `json:"query_text"`
	Limit     int      `json:"limit"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// DecisionSummary is one row of a query_decisions response.
type DecisionSummary struct {
	ID           string   `json:"id"`
	Question     string   `json:"question"`
	Consensus    string   `json:"consensus"`
	Score        float64  `json:"score"`
	Participants []string `json:"participants"`
	Timestamp    string   `json:"timestamp"`
}

// QueryDecisionsResult is the query_decisions verb's output, ordered by
// score descending.
type QueryDecisionsResult struct {
	Decisions []DecisionSummary `json:"decisions"`
}

// Service is the control plane. One Service may be invoked
// concurrently across unrelated deliberations — it holds no
// per-call mutable state itself; Engine and Store are each already
// safe for concurrent use.
type Service struct {
	engine  *deliberation.Engine
	store   graph.Store
	backend similarity.Backend
}

// New constructs a Service.
func New(engine *deliberation.Engine, store graph.Store, backend similarity.Backend) *Service {
	return &Service{engine: engine, store: store, backend: backend}
}

// Deliberate runs one deliberation end to end via the engine.
func (s *Service) Deliberate(ctx context.Context, req DeliberateRequest) (*types.DeliberationResult, error) {
	if req.Question == "" {
		return nil, fmt.Errorf("control: deliberate: question must not be empty: %w", errs.ErrConfigError)
	}
	if len(req.Participants) < 2 {
		return nil, fmt.Errorf("control: deliberate: need at least 2 participants: %w", errs.ErrConfigError)
	}

	mode := req.Mode
	if mode == "" {
		mode = types.ModeQuick
	}
	rounds := req.Rounds
	if rounds <= 0 {
		rounds = defaultRounds
	}

	return s.engine.Run(ctx, deliberation.Request{
		Question:     withContext(req.Question, req.Context),
		Participants: req.Participants,
		Mode:         mode,
		Rounds:       rounds,
	})
}

// QueryDecisions scores every stored decision's question against
// query_text with the same similarity backend the retriever uses,
// filters by threshold (or the retriever's noise floor when threshold
// is absent), and returns the top `limit` ordered by score descending.
func (s *Service) QueryDecisions(ctx context.Context, req QueryDecisionsRequest) (*QueryDecisionsResult, error) {
	if req.QueryText == "" {
		return nil, fmt.Errorf("control: query_decisions: query_text must not be empty: %w", errs.ErrConfigError)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	minScore := minScoreFloor
	if req.Threshold != nil {
		minScore = types.Clamp01(*req.Threshold)
	}

	nodes, err := s.store.GetAllDecisions(ctx, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("control: query_decisions: %w", err)
	}

	type candidate struct {
		node  types.DecisionNode
		score float64
	}
	scored := make([]candidate, 0, len(nodes))
	for _, node := range nodes {
		score, err := s.backend.ComputeSimilarity(ctx, req.QueryText, node.Question)
		if err != nil {
			continue
		}
		score = types.Clamp01(score)
		if score < minScore {
			continue
		}
		scored = append(scored, candidate{node: node, score: score})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > limit {
		scored = scored[:limit]
	}

	decisions := make([]DecisionSummary, len(scored))
	for i, c := range scored {
		decisions[i] = DecisionSummary{
			ID:           c.node.ID,
			Question:     c.node.Question,
			Consensus:    c.node.Consensus,
			Score:        c.score,
			Participants: c.node.Participants,
			Timestamp:    c.node.Timestamp.Format(timestampLayout),
		}
	}

	return &QueryDecisionsResult{Decisions: decisions}, nil
}

// minScoreFloor matches the retriever's noise floor: a query_decisions
// call without an explicit threshold should not surface candidates the
// retriever itself would never have injected as context.
const minScoreFloor = 0.40

const timestampLayout = "2006-01-02T15:04:05Z07:00"

func withContext(question, ctxText string) string {
	if ctxText == "" {
		return question
	}
	return question + "\n\n" + ctxText
}
