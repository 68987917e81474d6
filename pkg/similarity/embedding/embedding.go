// Package embedding implements the highest-quality similarity backend:
// Gemini sentence embeddings (google.golang.org/genai) compared by cosine
// distance. Embedding vectors are held as pgvector-go's Vector value
// type purely for its float32-slice shape and textual wire encoding —
// this module never touches Postgres; the type is reused the way
// veerababumanyam-MediSync stores embeddings, adapted to a
// non-Postgres setting.
package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"
)

const defaultModel = "text-embedding-004"

// Backend computes similarity via neural sentence embeddings. Only
// eligible for selection when an API key is supplied and the client
// constructs successfully; otherwise selection falls through to TF-IDF.
type Backend struct {
	client *genai.Client
	model  string
}

// New constructs a Gemini-backed embedding backend. It performs no network
// call itself; failures here are limited to client construction (bad
// configuration), matching the spec's "dependency loads successfully"
// auto-selection rule.
func New(ctx context.Context, apiKey, model string) (*Backend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedding: no API key configured")
	}
	if model == "" {
		model = defaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: client construction failed: %w", err)
	}

	return &Backend{client: client, model: model}, nil
}

// Name identifies this backend for logging.
func (b *Backend) Name() string { return "embedding" }

// ComputeSimilarity embeds a and b, then returns their cosine similarity
// clamped to [0,1].
func (b *Backend) ComputeSimilarity(ctx context.Context, a, b2 string) (float64, error) {
	if a == "" || b2 == "" {
		return 0, nil
	}
	if a == b2 {
		return 1, nil
	}

	vecA, err := b.Embed(ctx, a)
	if err != nil {
		return 0, err
	}
	vecB, err := b.Embed(ctx, b2)
	if err != nil {
		return 0, err
	}

	score := cosine(vecA.Slice(), vecB.Slice())
	return clamp01(score), nil
}

// Embed returns text's embedding vector. Exported so callers that hold an
// L2 embedding cache (pkg/retriever) can look up or populate it directly,
// instead of recomputing an embedding ComputeSimilarity already paid for.
func (b *Backend) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	result, err := b.client.Models.EmbedContent(ctx, b.model, genai.Text(text), nil)
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding: EmbedContent failed: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return pgvector.Vector{}, fmt.Errorf("embedding: empty embedding returned")
	}
	return pgvector.NewVector(result.Embeddings[0].Values), nil
}

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

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
