package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-counsel/counsel/pkg/types"
)

type stubAdapter struct{}

func (stubAdapter) Invoke(ctx context.Context, prompt, model, ctxText string, isDeliberation bool) (string, error) {
	return "stub:" + prompt, nil
}

func (stubAdapter) InvokeWithMetadata(ctx context.Context, prompt, model, ctxText string, isDeliberation bool) (string, types.TokenUsage, error) {
	return "stub:" + prompt, types.TokenUsage{}, nil
}

func TestRegistryBuildUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build("nope")
	require.Error(t, err)
}

func TestRegistryBuildRegistered(t *testing.T) {
	r := NewRegistry()
	r.Register("stub", func() (Adapter, error) { return stubAdapter{}, nil })

	a, err := r.Build("stub")
	require.NoError(t, err)

	text, err := a.Invoke(context.Background(), "hello", "model", "", false)
	require.NoError(t, err)
	assert.Equal(t, "stub:hello", text)
}

func TestJoinPromptContext(t *testing.T) {
	assert.Equal(t, "prompt only", JoinPromptContext("prompt only", ""))
	assert.Equal(t, "ctx\n\nprompt", JoinPromptContext("prompt", "ctx"))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 2, EstimateTokens("12345678"))
}
