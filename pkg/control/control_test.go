package control

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-counsel/counsel/pkg/adapter"
	"github.com/ai-counsel/counsel/pkg/convergence"
	"github.com/ai-counsel/counsel/pkg/deliberation"
	"github.com/ai-counsel/counsel/pkg/graph"
	"github.com/ai-counsel/counsel/pkg/similarity/jaccard"
	"github.com/ai-counsel/counsel/pkg/types"
)

type scriptedAdapter struct{ line string }

func (a *scriptedAdapter) Invoke(ctx context.Context, prompt, model, ctxText string, isDeliberation bool) (string, error) {
	return a.line, nil
}

func (a *scriptedAdapter) InvokeWithMetadata(ctx context.Context, prompt, model, ctxText string, isDeliberation bool) (string, types.TokenUsage, error) {
	return a.line, types.TokenUsage{Input: 5, Output: 5, Accuracy: types.TokenAccuracyEstimated}, nil
}

var _ adapter.Adapter = (*scriptedAdapter)(nil)

type noopMemory struct{}

func (noopMemory) GetContextForDeliberation(ctx context.Context, question string) string { return "" }
func (noopMemory) StoreDeliberation(ctx context.Context, question string, result *types.DeliberationResult) (string, error) {
	return "decision-1", nil
}

func newTestEngine() *deliberation.Engine {
	registry := adapter.NewRegistry()
	registry.Register("cli-a", func() (adapter.Adapter, error) {
		return &scriptedAdapter{line: "VOTE: yes\nCONFIDENCE: 0.8\nRATIONALE: good"}, nil
	})
	registry.Register("cli-b", func() (adapter.Adapter, error) {
		return &scriptedAdapter{line: "VOTE: yes\nCONFIDENCE: 0.7\nRATIONALE: agree"}, nil
	})
	return deliberation.New(registry, noopMemory{}, func() *convergence.Detector {
		return convergence.New(convergence.DefaultConfig(), jaccard.New())
	})
}

type fakeStore struct {
	nodes []types.DecisionNode
}

func (f *fakeStore) SaveDecision(ctx context.Context, node types.DecisionNode, stances []types.ParticipantStance) error {
	return nil
}
func (f *fakeStore) GetDecisionNode(ctx context.Context, id string) (*types.DecisionNode, error) {
	for _, n := range f.nodes {
		if n.ID == id {
			return &n, nil
		}
	}
	return nil, graph.ErrNotFound
}
func (f *fakeStore) GetAllDecisions(ctx context.Context, limit int, since *time.Time) ([]types.DecisionNode, error) {
	return f.nodes, nil
}
func (f *fakeStore) SaveSimilarity(ctx context.Context, edge types.DecisionSimilarity) error { return nil }
func (f *fakeStore) GetSimilarDecisions(ctx context.Context, sourceID string, minScore float64, limit int) ([]types.ScoredDecision, error) {
	return nil, nil
}
func (f *fakeStore) PruneSimilarities(ctx context.Context, keepPerSource int) error { return nil }
func (f *fakeStore) IncrementSolutionTotals(ctx context.Context, solution string, split types.TokenSplit) error {
	return nil
}
func (f *fakeStore) GetSolutionTotals(ctx context.Context, solution string) (*types.SolutionTokenTotals, error) {
	return nil, graph.ErrNotFound
}
func (f *fakeStore) Count(ctx context.Context) (int, error) { return len(f.nodes), nil }
func (f *fakeStore) Close() error                           { return nil }

var _ graph.Store = (*fakeStore)(nil)

type keywordBackend struct{}

func (keywordBackend) Name() string { return "keyword" }
func (keywordBackend) ComputeSimilarity(ctx context.Context, a, b string) (float64, error) {
	if a == b {
		return 1.0, nil
	}
	if len(a) > 0 && len(b) > 0 && a[0] == b[0] {
		return 0.5, nil
	}
	return 0.0, nil
}

func twoParticipants() []types.Participant {
	return []types.Participant{
		{CLI: "cli-a", Model: "model-a"},
		{CLI: "cli-b", Model: "model-b"},
	}
}

func TestDeliberateDefaultsModeAndRounds(t *testing.T) {
	svc := New(newTestEngine(), &fakeStore{}, keywordBackend{})
	result, err := svc.Deliberate(context.Background(), DeliberateRequest{
		Question:     "pick an approach",
		Participants: twoParticipants(),
	})
	require.NoError(t, err)
	assert.Equal(t, types.ModeQuick, result.Mode)
	assert.Equal(t, 1, result.RoundsCompleted)
}

func TestDeliberateRejectsEmptyQuestion(t *testing.T) {
	svc := New(newTestEngine(), &fakeStore{}, keywordBackend{})
	_, err := svc.Deliberate(context.Background(), DeliberateRequest{Participants: twoParticipants()})
	assert.Error(t, err)
}

func TestDeliberateRejectsTooFewParticipants(t *testing.T) {
	svc := New(newTestEngine(), &fakeStore{}, keywordBackend{})
	_, err := svc.Deliberate(context.Background(), DeliberateRequest{
		Question:     "q",
		Participants: []types.Participant{{CLI: "cli-a", Model: "m"}},
	})
	assert.Error(t, err)
}

func TestQueryDecisionsOrdersByScoreDescending(t *testing.T) {
	store := &fakeStore{nodes: []types.DecisionNode{
		{ID: "a", Question: "typescript migration", Consensus: "do it", Timestamp: time.Now()},
		{ID: "b", Question: "typescript rewrite", Consensus: "do it too", Timestamp: time.Now()},
		{ID: "c", Question: "database choice", Consensus: "postgres", Timestamp: time.Now()},
	}}
	svc := New(newTestEngine(), store, keywordBackend{})

	result, err := svc.QueryDecisions(context.Background(), QueryDecisionsRequest{QueryText: "typescript plan"})
	require.NoError(t, err)
	require.Len(t, result.Decisions, 2)
	assert.Equal(t, "a", result.Decisions[0].ID)
}

func TestQueryDecisionsAppliesExplicitThreshold(t *testing.T) {
	store := &fakeStore{nodes: []types.DecisionNode{
		{ID: "a", Question: "typescript migration", Timestamp: time.Now()},
		{ID: "b", Question: "database choice", Timestamp: time.Now()},
	}}
	svc := New(newTestEngine(), store, keywordBackend{})

	high := 0.9
	result, err := svc.QueryDecisions(context.Background(), QueryDecisionsRequest{QueryText: "typescript plan", Threshold: &high})
	require.NoError(t, err)
	assert.Empty(t, result.Decisions)
}

func TestQueryDecisionsRejectsEmptyQueryText(t *testing.T) {
	svc := New(newTestEngine(), &fakeStore{}, keywordBackend{})
	_, err := svc.QueryDecisions(context.Background(), QueryDecisionsRequest{})
	assert.Error(t, err)
}

func TestQueryDecisionsRespectsLimit(t *testing.T) {
	nodes := make([]types.DecisionNode, 0, 5)
	for i := 0; i < 5; i++ {
		nodes = append(nodes, types.DecisionNode{ID: fmt.Sprintf("d-%d", i), Question: "typescript plan", Timestamp: time.Now()})
	}
	store := &fakeStore{nodes: nodes}
	svc := New(newTestEngine(), store, keywordBackend{})

	result, err := svc.QueryDecisions(context.Background(), QueryDecisionsRequest{QueryText: "typescript plan", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, result.Decisions, 2)
}
