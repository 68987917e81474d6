package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-counsel/counsel/pkg/graph"
	"github.com/ai-counsel/counsel/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "graph.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleNode(id string) types.DecisionNode {
	return types.DecisionNode{
		ID:                id,
		Question:          "should we adopt feature flags?",
		Timestamp:         time.Now(),
		Consensus:         "yes, with a rollout plan",
		WinningOption:      "adopt",
		ConvergenceStatus: types.ConvergenceConverged,
		Participants:      []string{"claude@claude-cli", "gpt-4@codex-cli"},
		Metadata:          map[string]string{"mode": "conference"},
	}
}

func sampleStances(decisionID string) []types.ParticipantStance {
	conf := 0.9
	return []types.ParticipantStance{
		{DecisionID: decisionID, Participant: "claude@claude-cli", VoteOption: "adopt", Confidence: &conf, Rationale: "lowers deploy risk", FinalPosition: "adopt"},
		{DecisionID: decisionID, Participant: "gpt-4@codex-cli", VoteOption: "adopt", Confidence: &conf, Rationale: "agreed", FinalPosition: "adopt"},
	}
}

func TestSaveAndGetDecisionNodeRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	node := sampleNode("d1")
	require.NoError(t, s.SaveDecision(ctx, node, sampleStances("d1")))

	got, err := s.GetDecisionNode(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, node.Question, got.Question)
	assert.Equal(t, node.Consensus, got.Consensus)
	assert.Equal(t, node.Participants, got.Participants)
	assert.Equal(t, node.Metadata, got.Metadata)
}

func TestGetDecisionNodeNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetDecisionNode(context.Background(), "missing")
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestGetAllDecisionsOrderedDescending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n1 := sampleNode("d1")
	n1.Timestamp = time.Now().Add(-2 * time.Hour)
	n2 := sampleNode("d2")
	n2.Timestamp = time.Now().Add(-1 * time.Hour)

	require.NoError(t, s.SaveDecision(ctx, n1, nil))
	require.NoError(t, s.SaveDecision(ctx, n2, nil))

	all, err := s.GetAllDecisions(ctx, 0, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "d2", all[0].ID)
	assert.Equal(t, "d1", all[1].ID)
}

func TestGetAllDecisionsRespectsLimitAndSince(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := sampleNode("old")
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	recent := sampleNode("recent")
	recent.Timestamp = time.Now()

	require.NoError(t, s.SaveDecision(ctx, old, nil))
	require.NoError(t, s.SaveDecision(ctx, recent, nil))

	since := time.Now().Add(-1 * time.Hour)
	filtered, err := s.GetAllDecisions(ctx, 0, &since)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "recent", filtered[0].ID)

	limited, err := s.GetAllDecisions(ctx, 1, nil)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSaveSimilarityUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDecision(ctx, sampleNode("d1"), nil))
	require.NoError(t, s.SaveDecision(ctx, sampleNode("d2"), nil))

	edge := types.DecisionSimilarity{SourceID: "d1", TargetID: "d2", SimilarityScore: 0.5, ComputedAt: time.Now()}
	require.NoError(t, s.SaveSimilarity(ctx, edge))

	edge.SimilarityScore = 0.9
	require.NoError(t, s.SaveSimilarity(ctx, edge))

	similar, err := s.GetSimilarDecisions(ctx, "d1", 0.0, 10)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.InDelta(t, 0.9, similar[0].Score, 0.0001)
}

func TestSaveSimilarityRejectsSelfEdge(t *testing.T) {
	s := openTestStore(t)
	err := s.SaveSimilarity(context.Background(), types.DecisionSimilarity{SourceID: "d1", TargetID: "d1", SimilarityScore: 1.0})
	assert.Error(t, err)
}

func TestPruneSimilaritiesKeepsTopNPerSource(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDecision(ctx, sampleNode("d1"), nil))
	for i, target := range []string{"t1", "t2", "t3"} {
		require.NoError(t, s.SaveDecision(ctx, sampleNode(target), nil))
		require.NoError(t, s.SaveSimilarity(ctx, types.DecisionSimilarity{
			SourceID:        "d1",
			TargetID:        target,
			SimilarityScore: float64(i+1) / 10,
			ComputedAt:      time.Now(),
		}))
	}

	require.NoError(t, s.PruneSimilarities(ctx, 2))

	remaining, err := s.GetSimilarDecisions(ctx, "d1", 0.0, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, "t3", remaining[0].ID)
	assert.Equal(t, "t2", remaining[1].ID)
}

func TestIncrementSolutionTotalsAccumulates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	split := types.TokenSplit{ExactTokens: 100, EstimatedTokens: 50}
	require.NoError(t, s.IncrementSolutionTotals(ctx, "use-feature-flags", split))
	require.NoError(t, s.IncrementSolutionTotals(ctx, "use-feature-flags", split))

	totals, err := s.GetSolutionTotals(ctx, "use-feature-flags")
	require.NoError(t, err)
	assert.Equal(t, 300, totals.TotalTokens)
	assert.Equal(t, 200, totals.ExactTokens)
	assert.Equal(t, 100, totals.EstimatedTokens)
	assert.Equal(t, 2, totals.DeliberationCount)
}

func TestGetSolutionTotalsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetSolutionTotals(context.Background(), "never-seen")
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestCountReflectsSavedDecisions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.SaveDecision(ctx, sampleNode("d1"), nil))
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReopenPersistsAcrossConnections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.db")
	ctx := context.Background()

	s1, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, s1.SaveDecision(ctx, sampleNode("d1"), sampleStances("d1")))
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, path, nil)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetDecisionNode(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "should we adopt feature flags?", got.Question)
}
