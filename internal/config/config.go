// Package config loads AI Counsel's configuration in the shape of the
// teacher's cmd/looms loader: viper layering env vars > config file >
// defaults, unmarshalled into a mapstructure-tagged tree, with
// ${ENV} interpolation for adapter secrets and a small set of
// top-level environment overrides.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/spf13/viper"

	"github.com/ai-counsel/counsel/pkg/errs"
	"github.com/ai-counsel/counsel/pkg/types"
)

// DefaultConfigFileName is the base name viper searches for (without
// extension) when no explicit path is given.
const DefaultConfigFileName = "counsel"

// AdapterConfig configures one named model back-end. Exactly the
// fields relevant to Type are expected to be populated; the rest are
// zero.
type AdapterConfig struct {
	Type types.AdapterType `mapstructure:"type"`

	// CLI fields.
	Command string        `mapstructure:"command"`
	Args    []string      `mapstructure:"args"`
	Timeout time.Duration `mapstructure:"timeout"`

	// HTTP fields. Provider selects the concrete HTTP adapter
	// implementation ("anthropic", the default, or "bedrock"); it is an
	// addition beyond spec.md's {cli,http} type enum, not a replacement
	// for it — `type` stays `http` either way.
	Provider   string            `mapstructure:"provider"`
	BaseURL    string            `mapstructure:"base_url"`
	APIKey     string            `mapstructure:"api_key"`
	Headers    map[string]string `mapstructure:"headers"`
	MaxRetries int               `mapstructure:"max_retries"`

	// Region configures the bedrock provider; AWS credentials are
	// otherwise loaded from the standard SDK chain (env vars, shared
	// config, IAM role), not from this config tree.
	Region string `mapstructure:"region"`

	// RequestsPerSecond, when > 0, wraps this adapter in a token-bucket
	// rate limiter (see pkg/adapter.RateLimiter) sized to the vendor's
	// quota. Zero disables throttling.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstCapacity     int     `mapstructure:"burst_capacity"`
}

// ConvergenceConfig configures pkg/convergence.Config.
type ConvergenceConfig struct {
	Enabled                    bool    `mapstructure:"enabled"`
	SemanticSimilarityThreshold float64 `mapstructure:"semantic_similarity_threshold"`
	DivergenceThreshold        float64 `mapstructure:"divergence_threshold"`
	MinRoundsBeforeCheck       int     `mapstructure:"min_rounds_before_check"`
	ConsecutiveStableRounds    int     `mapstructure:"consecutive_stable_rounds"`
}

// DeliberationConfig groups deliberation-wide tuning.
type DeliberationConfig struct {
	ConvergenceDetection ConvergenceConfig `mapstructure:"convergence_detection"`
}

// TierBoundaries configures the retriever's strong/moderate cutoffs.
type TierBoundaries struct {
	Strong   float64 `mapstructure:"strong"`
	Moderate float64 `mapstructure:"moderate"`
}

// DecisionGraphConfig configures pkg/graph, pkg/cache, pkg/retriever,
// and pkg/graphmemory together, mirroring the spec's single
// `decision_graph.*` namespace.
type DecisionGraphConfig struct {
	Enabled              bool            `mapstructure:"enabled"`
	DBPath               string          `mapstructure:"db_path"`
	ContextTokenBudget   int             `mapstructure:"context_token_budget"`
	TierBoundaries       TierBoundaries  `mapstructure:"tier_boundaries"`
	QueryWindow          int             `mapstructure:"query_window"`
	MaxContextDecisions  int             `mapstructure:"max_context_decisions"`
	ComputeSimilarities  bool            `mapstructure:"compute_similarities"`
}

// DefaultsConfig configures deliberation defaults used when a request
// omits them.
type DefaultsConfig struct {
	Mode            types.Mode    `mapstructure:"mode"`
	Rounds          int           `mapstructure:"rounds"`
	MaxRounds       int           `mapstructure:"max_rounds"`
	TimeoutPerRound time.Duration `mapstructure:"timeout_per_round"`
}

// SimilarityConfig configures backend auto-selection. GeminiAPIKey
// itself is not part of this tree — it is read from the GEMINI_API_KEY
// environment variable via GeminiAPIKey(), alongside the spec's other
// plain (non-AI_COUNSEL_-prefixed) overrides.
type SimilarityConfig struct {
	EmbeddingModel string `mapstructure:"embedding_model"`
}

// Config is the root configuration tree.
type Config struct {
	Adapters      map[string]AdapterConfig `mapstructure:"adapters"`
	Deliberation  DeliberationConfig       `mapstructure:"deliberation"`
	DecisionGraph DecisionGraphConfig      `mapstructure:"decision_graph"`
	Defaults      DefaultsConfig           `mapstructure:"defaults"`
	Similarity    SimilarityConfig         `mapstructure:"similarity"`
	LogLevel      string                   `mapstructure:"log_level"`
}

// Load reads configuration from cfgFile (if non-empty) or the standard
// search locations, layering defaults, file, and environment overrides
// in viper's resolution order: env vars > config file > defaults. Load
// builds its own viper instance, so there is no flag layer and no
// caller-side viper.Set reaches it.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ai-counsel/")
		v.SetConfigName(DefaultConfigFileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read %s: %w: %w", v.ConfigFileUsed(), err, errs.ErrConfigError)
		}
	}

	v.SetEnvPrefix("AI_COUNSEL")
	v.AutomaticEnv()
	bindEnvOverrides(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w: %w", err, errs.ErrConfigError)
	}

	interpolateSecrets(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deliberation.convergence_detection.enabled", true)
	v.SetDefault("deliberation.convergence_detection.semantic_similarity_threshold", 0.85)
	v.SetDefault("deliberation.convergence_detection.divergence_threshold", 0.40)
	v.SetDefault("deliberation.convergence_detection.min_rounds_before_check", 2)
	v.SetDefault("deliberation.convergence_detection.consecutive_stable_rounds", 2)

	v.SetDefault("decision_graph.enabled", true)
	v.SetDefault("decision_graph.db_path", "./counsel.db")
	v.SetDefault("decision_graph.context_token_budget", 1500)
	v.SetDefault("decision_graph.tier_boundaries.strong", 0.75)
	v.SetDefault("decision_graph.tier_boundaries.moderate", 0.60)
	v.SetDefault("decision_graph.query_window", 1000)
	v.SetDefault("decision_graph.max_context_decisions", 10)
	v.SetDefault("decision_graph.compute_similarities", true)

	v.SetDefault("defaults.mode", string(types.ModeQuick))
	v.SetDefault("defaults.rounds", 2)
	v.SetDefault("defaults.max_rounds", 5)
	v.SetDefault("defaults.timeout_per_round", "120s")

	v.SetDefault("log_level", "info")
}

// bindEnvOverrides wires the spec's three named per-invocation
// environment overrides onto their config keys.
func bindEnvOverrides(v *viper.Viper) {
	_ = v.BindEnv("decision_graph.enabled", "DECISION_GRAPH_ENABLED")
	_ = v.BindEnv("log_level", "LOG_LEVEL")
	_ = v.BindEnv("decision_graph_disabled_override", "AI_COUNSEL_GRAPH_DISABLED")
}

// GraphDisabledOverride reports the spec's AI_COUNSEL_GRAPH_DISABLED=1
// per-invocation kill switch, checked independently of the persisted
// decision_graph.enabled setting.
func GraphDisabledOverride() bool {
	return os.Getenv("AI_COUNSEL_GRAPH_DISABLED") == "1"
}

// GeminiAPIKey reports the GEMINI_API_KEY environment variable that
// makes the embedding similarity backend eligible for auto-selection.
func GeminiAPIKey() string {
	return os.Getenv("GEMINI_API_KEY")
}

var envInterpolation = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolateSecrets expands ${ENV} references in adapter fields that
// plausibly carry secrets, per the spec's "${ENV} interpolation"
// requirement for adapter configuration.
func interpolateSecrets(cfg *Config) {
	for name, a := range cfg.Adapters {
		a.APIKey = expandEnv(a.APIKey)
		a.Command = expandEnv(a.Command)
		for i, arg := range a.Args {
			a.Args[i] = expandEnv(arg)
		}
		for k, val := range a.Headers {
			a.Headers[k] = expandEnv(val)
		}
		cfg.Adapters[name] = a
	}
}

func expandEnv(s string) string {
	return envInterpolation.ReplaceAllStringFunc(s, func(match string) string {
		name := envInterpolation.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// validate enforces the ConfigError conditions spec.md §7 calls fatal:
// missing env var (left to the caller to notice as an empty expansion
// at adapter-construction time), invalid adapter type, insufficient
// participants (enforced by pkg/deliberation, not here).
func (c *Config) validate() error {
	for name, a := range c.Adapters {
		if a.Type != types.AdapterTypeCLI && a.Type != types.AdapterTypeHTTP {
			return fmt.Errorf("config: adapter %q: invalid type %q: %w", name, a.Type, errs.ErrConfigError)
		}
		if a.Type == types.AdapterTypeHTTP && a.Provider != "" && a.Provider != "anthropic" && a.Provider != "bedrock" {
			return fmt.Errorf("config: adapter %q: invalid provider %q: %w", name, a.Provider, errs.ErrConfigError)
		}
	}
	return nil
}
