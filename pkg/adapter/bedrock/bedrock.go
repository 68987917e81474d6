// Package bedrock implements the HTTP adapter for AWS Bedrock's Converse
// API, using github.com/aws/aws-sdk-go-v2's bedrockruntime client.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/ai-counsel/counsel/internal/log"
	"github.com/ai-counsel/counsel/pkg/adapter"
	"github.com/ai-counsel/counsel/pkg/errs"
	counseltypes "github.com/ai-counsel/counsel/pkg/types"
)

// Config configures the Bedrock adapter.
type Config struct {
	Region      string
	Timeout     time.Duration
	RetryPolicy adapter.RetryPolicy
}

// Adapter invokes models hosted on AWS Bedrock via the Converse API.
type Adapter struct {
	client  *bedrockruntime.Client
	timeout time.Duration
	retry   adapter.RetryPolicy
}

var _ adapter.Adapter = (*Adapter)(nil)

// New constructs a Bedrock adapter, loading AWS credentials from the
// standard SDK credential chain (env vars, shared config, IAM role).
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryPolicy == (adapter.RetryPolicy{}) {
		cfg.RetryPolicy = adapter.DefaultRetryPolicy()
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: bedrock: failed to load AWS config: %v", errs.ErrConfigError, err)
	}

	return &Adapter{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		timeout: cfg.Timeout,
		retry:   cfg.RetryPolicy,
	}, nil
}

// Invoke sends prompt (with ctxText prepended when present) to model via
// Converse and returns the response text.
func (a *Adapter) Invoke(ctx context.Context, prompt, model, ctxText string, isDeliberation bool) (string, error) {
	text, _, err := a.invoke(ctx, prompt, model, ctxText)
	return text, err
}

// InvokeWithMetadata behaves like Invoke and additionally returns exact
// token usage from ConverseOutput.Usage.
func (a *Adapter) InvokeWithMetadata(ctx context.Context, prompt, model, ctxText string, isDeliberation bool) (string, counseltypes.TokenUsage, error) {
	return a.invoke(ctx, prompt, model, ctxText)
}

func (a *Adapter) invoke(ctx context.Context, prompt, model, ctxText string) (string, counseltypes.TokenUsage, error) {
	fullPrompt := adapter.JoinPromptContext(prompt, ctxText)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var output *bedrockruntime.ConverseOutput
	err := adapter.DoWithRetry(ctx, a.retry, log.Logger(), func(ctx context.Context) error {
		out, callErr := a.client.Converse(ctx, &bedrockruntime.ConverseInput{
			ModelId: aws.String(model),
			Messages: []types.Message{
				{
					Role:    types.ConversationRoleUser,
					Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: fullPrompt}},
				},
			},
		})
		if callErr != nil {
			return classifyError(callErr)
		}
		output = out
		return nil
	})
	if err != nil {
		return "", counseltypes.TokenUsage{}, errs.NewAdapterInvocation(model, err)
	}

	text := extractText(output)
	usage := counseltypes.TokenUsage{
		Accuracy:  counseltypes.TokenAccuracyExact,
		Adapter:   counseltypes.AdapterTypeHTTP,
		Model:     model,
		Timestamp: time.Now(),
	}
	if output.Usage != nil {
		usage.Input = int(aws.ToInt32(output.Usage.InputTokens))
		usage.Output = int(aws.ToInt32(output.Usage.OutputTokens))
	} else {
		usage.Accuracy = counseltypes.TokenAccuracyUnavailable
	}
	return text, usage, nil
}

func extractText(output *bedrockruntime.ConverseOutput) string {
	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var out string
	for _, block := range msg.Value.Content {
		if textBlock, ok := block.(*types.ContentBlockMemberText); ok {
			out += textBlock.Value
		}
	}
	return out
}

// classifyError wraps err with the HTTP status it carries, if any, so
// adapter.DoWithRetry can decide retryability without string matching.
func classifyError(err error) error {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return &adapter.StatusError{Status: respErr.HTTPStatusCode(), Err: err}
	}
	return err
}
