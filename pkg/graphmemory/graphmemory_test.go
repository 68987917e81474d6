package graphmemory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-counsel/counsel/pkg/cache"
	"github.com/ai-counsel/counsel/pkg/graph"
	"github.com/ai-counsel/counsel/pkg/retriever"
	"github.com/ai-counsel/counsel/pkg/types"
	"github.com/ai-counsel/counsel/pkg/worker"
)

type fakeStore struct {
	mu         sync.Mutex
	nodes      map[string]types.DecisionNode
	order      []string
	edges      []types.DecisionSimilarity
	totals     map[string]types.SolutionTokenTotals
	pruneCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{nodes: map[string]types.DecisionNode{}, totals: map[string]types.SolutionTokenTotals{}}
}

func (f *fakeStore) SaveDecision(ctx context.Context, node types.DecisionNode, stances []types.ParticipantStance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[node.ID] = node
	f.order = append(f.order, node.ID)
	return nil
}

func (f *fakeStore) GetDecisionNode(ctx context.Context, id string) (*types.DecisionNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[id]
	if !ok {
		return nil, graph.ErrNotFound
	}
	return &n, nil
}

func (f *fakeStore) GetAllDecisions(ctx context.Context, limit int, since *time.Time) ([]types.DecisionNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.DecisionNode
	for _, id := range f.order {
		out = append(out, f.nodes[id])
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) SaveSimilarity(ctx context.Context, edge types.DecisionSimilarity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edges = append(f.edges, edge)
	return nil
}

func (f *fakeStore) GetSimilarDecisions(ctx context.Context, sourceID string, minScore float64, limit int) ([]types.ScoredDecision, error) {
	return nil, nil
}

func (f *fakeStore) PruneSimilarities(ctx context.Context, keepPerSource int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneCalls++
	return nil
}

func (f *fakeStore) IncrementSolutionTotals(ctx context.Context, solution string, split types.TokenSplit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.totals[solution]
	t.Solution = solution
	t.TotalTokens += split.Total()
	t.ExactTokens += split.ExactTokens
	t.EstimatedTokens += split.EstimatedTokens
	t.TotalCostUSD += split.CostUSD
	t.DeliberationCount++
	f.totals[solution] = t
	return nil
}

func (f *fakeStore) GetSolutionTotals(ctx context.Context, solution string) (*types.SolutionTokenTotals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.totals[solution]
	if !ok {
		return nil, graph.ErrNotFound
	}
	return &t, nil
}

func (f *fakeStore) Count(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.nodes), nil
}

func (f *fakeStore) Close() error { return nil }

var _ graph.Store = (*fakeStore)(nil)

type fixedBackend struct{ score float64 }

func (b fixedBackend) Name() string { return "fixed" }
func (b fixedBackend) ComputeSimilarity(ctx context.Context, a, c string) (float64, error) {
	return b.score, nil
}

func newTestMemory(store *fakeStore, backendScore float64) (*Memory, *worker.Queue) {
	simCache := cache.New(cache.Config{})
	queue := worker.New(worker.Config{BufferSize: 16})
	retr := retriever.New(store, simCache, fixedBackend{score: backendScore}, retriever.Config{})
	mem := New(store, simCache, queue, retr, fixedBackend{score: backendScore}, Config{SimilarityWindow: 10, KeepPerSource: 5, EdgeThreshold: 0.40})
	queue.Start()
	return mem, queue
}

func sampleResult() *types.DeliberationResult {
	return &types.DeliberationResult{
		Status: types.DeliberationComplete,
		Mode:   types.ModeQuick,
		Summary: &types.Summary{Consensus: "go with plan A"},
		VotingResult: &types.VotingResult{Winner: "plan A"},
		ConvergenceInfo: &types.ConvergenceInfo{Status: types.ConvergenceConverged},
		Participants: []types.Participant{{CLI: "cli-a", Model: "model-a"}, {CLI: "cli-b", Model: "model-b"}},
		FullDebate: []types.RoundResponse{
			{Round: 1, Participant: "model-a@cli-a", Response: "I like plan A", Vote: &types.Vote{Option: "plan A", Confidence: 0.8}},
			{Round: 1, Participant: "model-b@cli-b", Response: "plan A works", Vote: &types.Vote{Option: "plan A", Confidence: 0.7}},
		},
		TokenStats: &types.TokenStats{ExactTokens: 100, EstimatedTokens: 50},
	}
}

func TestStoreDeliberationPersistsAndEnqueuesJob(t *testing.T) {
	store := newFakeStore()
	mem, queue := newTestMemory(store, 0.9)
	defer queue.Shutdown(context.Background())

	id, err := mem.StoreDeliberation(context.Background(), "which plan?", sampleResult())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	node, err := store.GetDecisionNode(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "go with plan A", node.Consensus)
	assert.Equal(t, "plan A", node.WinningOption)
	assert.Equal(t, types.ConvergenceConverged, node.ConvergenceStatus)

	totals, err := store.GetSolutionTotals(context.Background(), "plan A")
	require.NoError(t, err)
	assert.Equal(t, 100, totals.ExactTokens)
	assert.Equal(t, 50, totals.EstimatedTokens)
	assert.Equal(t, 150, totals.TotalTokens)
}

func TestComputeSimilaritiesPersistsEdgesAboveThreshold(t *testing.T) {
	store := newFakeStore()
	mem, queue := newTestMemory(store, 0.9)
	defer queue.Shutdown(context.Background())

	// seed an existing decision the new one will be compared against
	existing := types.DecisionNode{ID: "existing-1", Question: "older question", Timestamp: time.Now()}
	require.NoError(t, store.SaveDecision(context.Background(), existing, nil))

	id, err := mem.StoreDeliberation(context.Background(), "which plan?", sampleResult())
	require.NoError(t, err)

	// run the handler synchronously to avoid a test-only sleep/poll
	job := worker.Job{Payload: id}
	require.NoError(t, mem.computeSimilarities(context.Background(), job))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.edges, 1)
	assert.Equal(t, id, store.edges[0].SourceID)
	assert.Equal(t, "existing-1", store.edges[0].TargetID)
	assert.Equal(t, 0.9, store.edges[0].SimilarityScore)
	assert.Equal(t, 1, store.pruneCalls)
}

func TestComputeSimilaritiesSkipsBelowThreshold(t *testing.T) {
	store := newFakeStore()
	mem, queue := newTestMemory(store, 0.10)
	defer queue.Shutdown(context.Background())

	existing := types.DecisionNode{ID: "existing-1", Question: "older question", Timestamp: time.Now()}
	require.NoError(t, store.SaveDecision(context.Background(), existing, nil))

	id, _ := mem.StoreDeliberation(context.Background(), "q", sampleResult())
	require.NoError(t, mem.computeSimilarities(context.Background(), worker.Job{Payload: id}))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.edges)
}

func TestComputeSimilaritiesMissingNodeIsNotAnError(t *testing.T) {
	store := newFakeStore()
	mem, queue := newTestMemory(store, 0.9)
	defer queue.Shutdown(context.Background())

	err := mem.computeSimilarities(context.Background(), worker.Job{Payload: "does-not-exist"})
	assert.NoError(t, err)
}

func TestHealthCheckAndMetrics(t *testing.T) {
	store := newFakeStore()
	mem, queue := newTestMemory(store, 0.9)
	defer queue.Shutdown(context.Background())

	assert.NoError(t, mem.HealthCheck(context.Background()))

	_, err := mem.StoreDeliberation(context.Background(), "q", sampleResult())
	require.NoError(t, err)

	metrics, err := mem.GetGraphMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.DecisionCount)
}

func TestGetContextForDeliberationDelegatesToRetriever(t *testing.T) {
	store := newFakeStore()
	mem, queue := newTestMemory(store, 0.9)
	defer queue.Shutdown(context.Background())

	existing := types.DecisionNode{ID: "existing-1", Question: "similar question", Consensus: "consensus text", Timestamp: time.Now()}
	require.NoError(t, store.SaveDecision(context.Background(), existing, nil))

	md := mem.GetContextForDeliberation(context.Background(), "similar question")
	assert.NotEmpty(t, md)
}
