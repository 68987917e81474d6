// Package adapter defines the polymorphic invocation surface the
// deliberation engine uses to talk to CLI subprocesses and HTTP model
// back-ends uniformly.
package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/ai-counsel/counsel/pkg/types"
)

// Adapter is the uniform capability set for invoking a single model.
// Concrete implementations are per-vendor (cliexec, anthropicapi,
// bedrock); the engine never branches on adapter type directly.
type Adapter interface {
	// Invoke prepends context to prompt (blank-line separated, when
	// context is non-empty) and returns the model's response text.
	Invoke(ctx context.Context, prompt, model, context_ string, isDeliberation bool) (string, error)

	// InvokeWithMetadata behaves like Invoke but additionally returns
	// token accounting. HTTP adapters extract exact counts from the
	// provider response; the CLI adapter (cliexec) estimates them.
	InvokeWithMetadata(ctx context.Context, prompt, model, context_ string, isDeliberation bool) (string, types.TokenUsage, error)
}

// Constructor builds an Adapter from a participant's CLI name, typically
// reading vendor-specific config (endpoint, API key, timeout) from the
// process environment or a Config struct captured at registration time.
type Constructor func() (Adapter, error)

// Registry maps a participant's `cli` field to a constructor, so callers
// resolve an Adapter by name instead of switching on adapter type.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register binds name (a participant's `cli` value) to constructor.
func (r *Registry) Register(name string, constructor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = constructor
}

// Build constructs the Adapter registered for name.
func (r *Registry) Build(name string) (Adapter, error) {
	r.mu.RLock()
	constructor, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("adapter: no constructor registered for cli %q", name)
	}
	return constructor()
}

// JoinPromptContext prepends ctxText to prompt with a blank-line
// separator when ctxText is non-empty, per the spec's invoke contract.
func JoinPromptContext(prompt, ctxText string) string {
	if ctxText == "" {
		return prompt
	}
	return ctxText + "\n\n" + prompt
}

// EstimateTokens is the fallback heuristic used when no tokenizer is
// available: len(text)//4.
func EstimateTokens(text string) int {
	return len(text) / 4
}
