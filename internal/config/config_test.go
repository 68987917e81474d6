package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-counsel/counsel/pkg/types"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "counsel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, types.ModeQuick, cfg.Defaults.Mode)
	assert.Equal(t, 2, cfg.Defaults.Rounds)
	assert.Equal(t, 0.85, cfg.Deliberation.ConvergenceDetection.SemanticSimilarityThreshold)
	assert.True(t, cfg.DecisionGraph.Enabled)
}

func TestLoadInterpolatesEnvInAdapterFields(t *testing.T) {
	t.Setenv("MY_API_KEY", "sk-test-123")
	path := writeConfigFile(t, `
adapters:
  claude:
    type: http
    base_url: https://api.example.com
    api_key: "${MY_API_KEY}"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, cfg.Adapters, "claude")
	assert.Equal(t, "sk-test-123", cfg.Adapters["claude"].APIKey)
}

func TestLoadRejectsInvalidAdapterType(t *testing.T) {
	path := writeConfigFile(t, `
adapters:
  bogus:
    type: carrier-pigeon
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadParsesCLIAdapterFields(t *testing.T) {
	path := writeConfigFile(t, `
adapters:
  claude:
    type: cli
    command: claude
    args: ["--model", "sonnet"]
    timeout: 60s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	a := cfg.Adapters["claude"]
	assert.Equal(t, types.AdapterTypeCLI, a.Type)
	assert.Equal(t, "claude", a.Command)
	assert.Equal(t, []string{"--model", "sonnet"}, a.Args)
}

func TestGraphDisabledOverrideReadsEnv(t *testing.T) {
	assert.False(t, GraphDisabledOverride())
	t.Setenv("AI_COUNSEL_GRAPH_DISABLED", "1")
	assert.True(t, GraphDisabledOverride())
}

func TestGeminiAPIKeyReadsEnv(t *testing.T) {
	assert.Empty(t, GeminiAPIKey())
	t.Setenv("GEMINI_API_KEY", "gm-test-456")
	assert.Equal(t, "gm-test-456", GeminiAPIKey())
}

func TestLoadParsesBedrockAdapterFields(t *testing.T) {
	path := writeConfigFile(t, `
adapters:
  claude-bedrock:
    type: http
    provider: bedrock
    region: us-east-1
    timeout: 90s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	a := cfg.Adapters["claude-bedrock"]
	assert.Equal(t, types.AdapterTypeHTTP, a.Type)
	assert.Equal(t, "bedrock", a.Provider)
	assert.Equal(t, "us-east-1", a.Region)
}

func TestLoadRejectsInvalidProvider(t *testing.T) {
	path := writeConfigFile(t, `
adapters:
  claude:
    type: http
    provider: openai
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadParsesSimilarityEmbeddingModel(t *testing.T) {
	path := writeConfigFile(t, `
similarity:
  embedding_model: text-embedding-005
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-005", cfg.Similarity.EmbeddingModel)
}
