// Package anthropicapi implements the HTTP adapter for Anthropic's
// Messages API, using the official github.com/anthropics/anthropic-sdk-go
// client for request/response typing and exact token usage.
package anthropicapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ai-counsel/counsel/internal/log"
	"github.com/ai-counsel/counsel/pkg/adapter"
	"github.com/ai-counsel/counsel/pkg/errs"
	"github.com/ai-counsel/counsel/pkg/types"
)

const (
	defaultMaxTokens  = 4096
	defaultTimeout    = 60 * time.Second
)

// Config configures the Anthropic adapter. APIKey is resolved by the
// caller via ${ENV} interpolation before reaching this package.
type Config struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	MaxTokens   int
	RetryPolicy adapter.RetryPolicy
}

// Adapter invokes Claude models over Anthropic's Messages API.
type Adapter struct {
	client    anthropic.Client
	maxTokens int
	retry     adapter.RetryPolicy
}

var _ adapter.Adapter = (*Adapter)(nil)

// New constructs an Anthropic adapter. Fails if APIKey is empty —
// config-level ${ENV} interpolation should already have resolved it, so
// an empty key here indicates a ConfigError at the caller.
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic adapter requires an API key", errs.ErrConfigError)
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryPolicy == (adapter.RetryPolicy{}) {
		cfg.RetryPolicy = adapter.DefaultRetryPolicy()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Adapter{
		client:    anthropic.NewClient(opts...),
		maxTokens: cfg.MaxTokens,
		retry:     cfg.RetryPolicy,
	}, nil
}

// Invoke sends prompt (with ctxText prepended when present) to model and
// returns the response text.
func (a *Adapter) Invoke(ctx context.Context, prompt, model, ctxText string, isDeliberation bool) (string, error) {
	text, _, err := a.invoke(ctx, prompt, model, ctxText)
	return text, err
}

// InvokeWithMetadata behaves like Invoke and additionally returns exact
// token usage from the provider's usage block.
func (a *Adapter) InvokeWithMetadata(ctx context.Context, prompt, model, ctxText string, isDeliberation bool) (string, types.TokenUsage, error) {
	text, usage, err := a.invoke(ctx, prompt, model, ctxText)
	return text, usage, err
}

func (a *Adapter) invoke(ctx context.Context, prompt, model, ctxText string) (string, types.TokenUsage, error) {
	fullPrompt := adapter.JoinPromptContext(prompt, ctxText)

	var message *anthropic.Message
	err := adapter.DoWithRetry(ctx, a.retry, log.Logger(), func(ctx context.Context) error {
		msg, callErr := a.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: int64(a.maxTokens),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(fullPrompt)),
			},
		})
		if callErr != nil {
			return classifyError(callErr)
		}
		message = msg
		return nil
	})
	if err != nil {
		return "", types.TokenUsage{}, errs.NewAdapterInvocation(model, err)
	}

	text := extractText(message)
	usage := types.TokenUsage{
		Input:     int(message.Usage.InputTokens),
		Output:    int(message.Usage.OutputTokens),
		Accuracy:  types.TokenAccuracyExact,
		Adapter:   types.AdapterTypeHTTP,
		Model:     model,
		Timestamp: time.Now(),
	}
	return text, usage, nil
}

func extractText(message *anthropic.Message) string {
	var out string
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			out += text.Text
		}
	}
	return out
}

// classifyError wraps err with the HTTP status it carries, if any, so
// adapter.DoWithRetry can decide retryability without string matching.
func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &adapter.StatusError{Status: apiErr.StatusCode, Err: err}
	}
	return err
}
