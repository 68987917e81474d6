package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-counsel/counsel/pkg/adapter"
	"github.com/ai-counsel/counsel/pkg/control"
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

type emptyStore struct{}

func (emptyStore) SaveDecision(ctx context.Context, node types.DecisionNode, stances []types.ParticipantStance) error {
	return nil
}
func (emptyStore) GetDecisionNode(ctx context.Context, id string) (*types.DecisionNode, error) {
	return nil, graph.ErrNotFound
}
func (emptyStore) GetAllDecisions(ctx context.Context, limit int, since *time.Time) ([]types.DecisionNode, error) {
	return nil, nil
}
func (emptyStore) SaveSimilarity(ctx context.Context, edge types.DecisionSimilarity) error { return nil }
func (emptyStore) GetSimilarDecisions(ctx context.Context, sourceID string, minScore float64, limit int) ([]types.ScoredDecision, error) {
	return nil, nil
}
func (emptyStore) PruneSimilarities(ctx context.Context, keepPerSource int) error { return nil }
func (emptyStore) IncrementSolutionTotals(ctx context.Context, solution string, split types.TokenSplit) error {
	return nil
}
func (emptyStore) GetSolutionTotals(ctx context.Context, solution string) (*types.SolutionTokenTotals, error) {
	return nil, graph.ErrNotFound
}
func (emptyStore) Count(ctx context.Context) (int, error) { return 0, nil }
func (emptyStore) Close() error                           { return nil }

var _ graph.Store = emptyStore{}

func newTestService() *control.Service {
	registry := adapter.NewRegistry()
	registry.Register("cli-a", func() (adapter.Adapter, error) {
		return &scriptedAdapter{line: "VOTE: yes\nCONFIDENCE: 0.8\nRATIONALE: good"}, nil
	})
	registry.Register("cli-b", func() (adapter.Adapter, error) {
		return &scriptedAdapter{line: "VOTE: yes\nCONFIDENCE: 0.7\nRATIONALE: agree"}, nil
	})
	engine := deliberation.New(registry, noopMemory{}, func() *convergence.Detector {
		return convergence.New(convergence.DefaultConfig(), jaccard.New())
	})
	return control.New(engine, emptyStore{}, jaccard.New())
}

func TestHandleLineMalformedRequest(t *testing.T) {
	resp := handleLine(context.Background(), newTestService(), []byte("not json"))
	assert.Empty(t, resp.Result)
	assert.Contains(t, resp.Error, "malformed request")
}

func TestHandleLineUnknownVerb(t *testing.T) {
	resp := handleLine(context.Background(), newTestService(), []byte(`{"verb":"levitate","params":{}}`))
	assert.Contains(t, resp.Error, "unknown verb")
}

func TestHandleLineDeliberateDispatch(t *testing.T) {
	params := control.DeliberateRequest{
		Question: "pick an approach",
		Participants: []types.Participant{
			{CLI: "cli-a", Model: "model-a"},
			{CLI: "cli-b", Model: "model-b"},
		},
	}
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	line, err := json.Marshal(request{Verb: "deliberate", Params: raw})
	require.NoError(t, err)

	resp := handleLine(context.Background(), newTestService(), line)
	require.Empty(t, resp.Error)
	result, ok := resp.Result.(*types.DeliberationResult)
	require.True(t, ok)
	assert.Equal(t, types.ModeQuick, result.Mode)
}

func TestHandleLineQueryDecisionsDispatch(t *testing.T) {
	params := control.QueryDecisionsRequest{QueryText: "typescript plan"}
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	line, err := json.Marshal(request{Verb: "query_decisions", Params: raw})
	require.NoError(t, err)

	resp := handleLine(context.Background(), newTestService(), line)
	require.Empty(t, resp.Error)
	result, ok := resp.Result.(*control.QueryDecisionsResult)
	require.True(t, ok)
	assert.Empty(t, result.Decisions)
}
