package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ai-counsel/counsel/pkg/types"
)

// RateLimiterConfig configures throttling of calls to a single HTTP
// model adapter (anthropicapi, bedrock) shared across a deliberation's
// concurrently fanned-out participants.
type RateLimiterConfig struct {
	// Enabled turns throttling on. When false, Do calls through
	// directly with no token bucket or retry wrapping.
	Enabled bool

	// RequestsPerSecond is the steady-state request rate allowed
	// across all participants sharing this adapter instance.
	RequestsPerSecond float64

	// BurstCapacity is the token bucket's maximum burst size.
	BurstCapacity int

	// MinDelay is a floor on spacing between requests, applied after
	// token acquisition even when the bucket would allow a tighter
	// pace.
	MinDelay time.Duration

	// MaxRetries is the number of additional attempts after a
	// throttling response (HTTP 429 or equivalent) before giving up.
	MaxRetries int

	// RetryBackoff is the initial delay before the first retry;
	// doubles on each subsequent attempt.
	RetryBackoff time.Duration

	// QueueTimeout bounds how long a call may wait for a free token
	// before failing with a queue-timeout error.
	QueueTimeout time.Duration

	Logger *zap.Logger
}

// DefaultRateLimiterConfig returns conservative defaults suitable for a
// hosted model API with a modest per-minute quota.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 2.0,
		BurstCapacity:     5,
		MinDelay:          300 * time.Millisecond,
		MaxRetries:        5,
		RetryBackoff:      1 * time.Second,
		QueueTimeout:      5 * time.Minute,
		Logger:            zap.NewNop(),
	}
}

// RateLimiterMetrics tracks a rate limiter's lifetime behavior.
type RateLimiterMetrics struct {
	TotalRequests     int64
	ThrottledRequests int64
	QueuedRequests    int64
	DroppedRequests   int64
	LastThrottleTime  time.Time
}

// RateLimiter is a token-bucket limiter with exponential-backoff retry
// on throttling errors. It is safe for concurrent use by every
// participant sharing the adapter it wraps.
type RateLimiter struct {
	config RateLimiterConfig

	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time

	metricsMu sync.Mutex
	metrics   RateLimiterMetrics

	stopCh chan struct{}
	closed atomic.Bool
}

// NewRateLimiter constructs a RateLimiter. Call Close when the
// underlying adapter is no longer needed.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &RateLimiter{
		config:     config,
		tokens:     float64(config.BurstCapacity),
		maxTokens:  float64(config.BurstCapacity),
		refillRate: config.RequestsPerSecond,
		lastRefill: time.Now(),
		stopCh:     make(chan struct{}),
	}
}

// Do runs call under rate limiting, retrying with exponential backoff
// when call returns a throttling error. Disabled limiters call through
// directly.
func (rl *RateLimiter) Do(ctx context.Context, call func(context.Context) error) error {
	if !rl.config.Enabled {
		return call(ctx)
	}
	if rl.closed.Load() {
		return fmt.Errorf("adapter: rate limiter stopped")
	}

	queueCtx, cancel := context.WithTimeout(ctx, rl.config.QueueTimeout)
	defer cancel()

	rl.recordMetric("queued")
	for {
		if rl.acquireToken() {
			break
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-queueCtx.Done():
			rl.recordMetric("dropped")
			return fmt.Errorf("adapter: rate limiter queue timeout after %v", rl.config.QueueTimeout)
		case <-rl.stopCh:
			return fmt.Errorf("adapter: rate limiter stopped")
		}
	}

	if rl.config.MinDelay > 0 {
		time.Sleep(rl.config.MinDelay)
	}

	return rl.executeWithRetry(ctx, call)
}

func (rl *RateLimiter) executeWithRetry(ctx context.Context, call func(context.Context) error) error {
	backoff := rl.config.RetryBackoff

	for attempt := 0; attempt <= rl.config.MaxRetries; attempt++ {
		err := call(ctx)
		rl.recordMetric("request")

		if err != nil && isThrottlingError(err) {
			rl.recordMetric("throttled")
			rl.config.Logger.Warn("adapter.throttled_retry",
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", rl.config.MaxRetries),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			if attempt < rl.config.MaxRetries {
				select {
				case <-time.After(backoff):
					backoff *= 2
				case <-ctx.Done():
					return ctx.Err()
				case <-rl.stopCh:
					return fmt.Errorf("adapter: rate limiter stopped during retry")
				}
				continue
			}
			continue
		}
		return err
	}

	return fmt.Errorf("adapter: request failed after %d retries due to throttling", rl.config.MaxRetries+1)
}

func (rl *RateLimiter) acquireToken() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens = minFloat(rl.maxTokens, rl.tokens+elapsed*rl.refillRate)
	rl.lastRefill = now

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}

func isThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	for _, marker := range []string{"429", "ThrottlingException", "TooManyRequests", "rate limit", "throttle"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func (rl *RateLimiter) recordMetric(event string) {
	rl.metricsMu.Lock()
	defer rl.metricsMu.Unlock()
	switch event {
	case "request":
		rl.metrics.TotalRequests++
	case "throttled":
		rl.metrics.ThrottledRequests++
		rl.metrics.LastThrottleTime = time.Now()
	case "queued":
		rl.metrics.QueuedRequests++
	case "dropped":
		rl.metrics.DroppedRequests++
	}
}

// Metrics returns a snapshot of the limiter's counters.
func (rl *RateLimiter) Metrics() RateLimiterMetrics {
	rl.metricsMu.Lock()
	defer rl.metricsMu.Unlock()
	return rl.metrics
}

// Close stops the limiter. Idempotent.
func (rl *RateLimiter) Close() error {
	if !rl.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(rl.stopCh)
	return nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// RateLimited wraps an Adapter so every Invoke/InvokeWithMetadata call
// passes through limiter first. Use when a participant's underlying
// vendor API enforces a request-per-second or burst quota that
// multiple concurrently deliberating participants could otherwise
// exceed.
type RateLimited struct {
	next    Adapter
	limiter *RateLimiter
}

// NewRateLimited constructs a rate-limited decorator over next.
func NewRateLimited(next Adapter, limiter *RateLimiter) *RateLimited {
	return &RateLimited{next: next, limiter: limiter}
}

var _ Adapter = (*RateLimited)(nil)

func (a *RateLimited) Invoke(ctx context.Context, prompt, model, ctxText string, isDeliberation bool) (string, error) {
	var out string
	err := a.limiter.Do(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = a.next.Invoke(ctx, prompt, model, ctxText, isDeliberation)
		return callErr
	})
	return out, err
}

func (a *RateLimited) InvokeWithMetadata(ctx context.Context, prompt, model, ctxText string, isDeliberation bool) (string, types.TokenUsage, error) {
	var out string
	var usage types.TokenUsage
	err := a.limiter.Do(ctx, func(ctx context.Context) error {
		var callErr error
		out, usage, callErr = a.next.InvokeWithMetadata(ctx, prompt, model, ctxText, isDeliberation)
		return callErr
	})
	return out, usage, err
}
