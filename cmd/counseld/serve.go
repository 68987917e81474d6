package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/ai-counsel/counsel/internal/sqlitedriver"

	"github.com/ai-counsel/counsel/internal/config"
	"github.com/ai-counsel/counsel/internal/log"
	"github.com/ai-counsel/counsel/pkg/adapter"
	"github.com/ai-counsel/counsel/pkg/adapter/anthropicapi"
	"github.com/ai-counsel/counsel/pkg/adapter/bedrock"
	"github.com/ai-counsel/counsel/pkg/adapter/cliexec"
	"github.com/ai-counsel/counsel/pkg/cache"
	"github.com/ai-counsel/counsel/pkg/control"
	"github.com/ai-counsel/counsel/pkg/convergence"
	"github.com/ai-counsel/counsel/pkg/deliberation"
	"github.com/ai-counsel/counsel/pkg/graph/sqlitestore"
	"github.com/ai-counsel/counsel/pkg/graphmemory"
	"github.com/ai-counsel/counsel/pkg/retriever"
	"github.com/ai-counsel/counsel/pkg/similarity"
	"github.com/ai-counsel/counsel/pkg/types"
	"github.com/ai-counsel/counsel/pkg/worker"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Read newline-delimited JSON verb requests from stdin and reply on stdout",
	RunE:  runServe,
}

// request is one stdin line: {"verb": "deliberate"|"query_decisions", "params": {...}}.
type request struct {
	Verb   string          `json:"verb"`
	Params json.RawMessage `json:"params"`
}

type response struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()

	registry := buildAdapterRegistry(ctx, cfg)
	backend := similarity.Select(ctx, similarity.Config{
		GeminiAPIKey:   config.GeminiAPIKey(),
		EmbeddingModel: cfg.Similarity.EmbeddingModel,
	})

	svc, err := buildControlService(ctx, cfg, registry, backend)
	if err != nil {
		return err
	}

	return serveLoop(ctx, svc)
}

func buildAdapterRegistry(ctx context.Context, cfg *config.Config) *adapter.Registry {
	registry := adapter.NewRegistry()
	for name, ac := range cfg.Adapters {
		name, ac := name, ac
		switch ac.Type {
		case types.AdapterTypeCLI:
			registry.Register(name, func() (adapter.Adapter, error) {
				return cliexec.New(cliexec.Config{Command: ac.Command, Args: ac.Args, ActivityTimeout: ac.Timeout}), nil
			})
		case types.AdapterTypeHTTP:
			registry.Register(name, func() (adapter.Adapter, error) {
				base, err := buildHTTPAdapter(ctx, ac)
				if err != nil {
					return nil, err
				}
				if ac.RequestsPerSecond <= 0 {
					return base, nil
				}
				limiterCfg := adapter.DefaultRateLimiterConfig()
				limiterCfg.RequestsPerSecond = ac.RequestsPerSecond
				if ac.BurstCapacity > 0 {
					limiterCfg.BurstCapacity = ac.BurstCapacity
				}
				return adapter.NewRateLimited(base, adapter.NewRateLimiter(limiterCfg)), nil
			})
		default:
			log.Warn("counseld.unknown_adapter_type", zap.String("adapter", name), zap.String("type", string(ac.Type)))
		}
	}
	return registry
}

// buildHTTPAdapter picks the concrete HTTP adapter implementation for
// ac.Provider ("anthropic", the default, or "bedrock").
func buildHTTPAdapter(ctx context.Context, ac config.AdapterConfig) (adapter.Adapter, error) {
	switch ac.Provider {
	case "", "anthropic":
		return anthropicapi.New(anthropicapi.Config{APIKey: ac.APIKey, BaseURL: ac.BaseURL, Timeout: ac.Timeout})
	case "bedrock":
		return bedrock.New(ctx, bedrock.Config{Region: ac.Region, Timeout: ac.Timeout})
	default:
		return nil, fmt.Errorf("counseld: adapter provider %q not recognised", ac.Provider)
	}
}

func buildControlService(ctx context.Context, cfg *config.Config, registry *adapter.Registry, backend similarity.Backend) (*control.Service, error) {
	dbPath := cfg.DecisionGraph.DBPath
	if !cfg.DecisionGraph.Enabled || config.GraphDisabledOverride() {
		dbPath = ":memory:"
		log.Info("counseld.decision_graph_disabled", zap.String("reason", "config or AI_COUNSEL_GRAPH_DISABLED"))
	}

	store, err := sqlitestore.Open(ctx, dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("counseld: open decision graph: %w", err)
	}

	simCache := cache.New(cache.Config{})
	queue := worker.New(worker.Config{})
	queue.Start()

	retr := retriever.New(store, simCache, backend, retriever.Config{
		ContextTokenBudget: cfg.DecisionGraph.ContextTokenBudget,
		TierStrong:         cfg.DecisionGraph.TierBoundaries.Strong,
		TierModerate:       cfg.DecisionGraph.TierBoundaries.Moderate,
		QueryWindow:        cfg.DecisionGraph.QueryWindow,
	})

	memory := graphmemory.New(store, simCache, queue, retr, backend, graphmemory.Config{})

	engine := deliberation.New(registry, memory, func() *convergence.Detector {
		return convergence.New(convergence.Config{
			SimilarityThreshold:     cfg.Deliberation.ConvergenceDetection.SemanticSimilarityThreshold,
			DivergenceThreshold:     cfg.Deliberation.ConvergenceDetection.DivergenceThreshold,
			MinRoundsBeforeCheck:    cfg.Deliberation.ConvergenceDetection.MinRoundsBeforeCheck,
			ConsecutiveStableRounds: cfg.Deliberation.ConvergenceDetection.ConsecutiveStableRounds,
		}, backend)
	})

	return control.New(engine, store, backend), nil
}

// serveLoop reads one JSON request per line from stdin and writes one
// JSON response per line to stdout, dispatching each to the matching
// control-plane verb. Malformed lines and unknown verbs yield an error
// response rather than terminating the loop.
func serveLoop(ctx context.Context, svc *control.Service) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	encoder := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		_ = encoder.Encode(handleLine(ctx, svc, line))
	}
	return scanner.Err()
}

func handleLine(ctx context.Context, svc *control.Service, line []byte) response {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return response{Error: fmt.Sprintf("malformed request: %v", err)}
	}

	switch req.Verb {
	case "deliberate":
		var params control.DeliberateRequest
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return response{Error: fmt.Sprintf("malformed deliberate params: %v", err)}
		}
		result, err := svc.Deliberate(ctx, params)
		if err != nil {
			return response{Error: err.Error()}
		}
		return response{Result: result}

	case "query_decisions":
		var params control.QueryDecisionsRequest
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return response{Error: fmt.Sprintf("malformed query_decisions params: %v", err)}
		}
		result, err := svc.QueryDecisions(ctx, params)
		if err != nil {
			return response{Error: err.Error()}
		}
		return response{Result: result}

	default:
		return response{Error: fmt.Sprintf("unknown verb %q", req.Verb)}
	}
}
