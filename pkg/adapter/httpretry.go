package adapter

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy configures the HTTP adapter base's retry loop: exponential
// backoff starting at Initial, doubling up to Max, bounded by MaxAttempts.
// 4xx responses are never retried; 5xx and 429 are.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
}

// DefaultRetryPolicy matches the spec's "multiplier 1s, max 10s" guidance.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Initial: time.Second, Max: 10 * time.Second}
}

// RetryableStatus reports whether a non-2xx HTTP status should be retried.
func RetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// DoWithRetry executes call repeatedly per policy until it returns a
// nil error, a non-retryable error, or the attempt budget is exhausted.
// call should return a *StatusError when it can determine the HTTP
// status, so DoWithRetry can decide retryability; any other error is
// treated as non-retryable (transport-level failures already exhausted
// their own retries inside the HTTP client, or are permanent).
func DoWithRetry(ctx context.Context, policy RetryPolicy, logger *zap.Logger, call func(context.Context) error) error {
	backoff := policy.Initial

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err := call(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var statusErr *StatusError
		if !errors.As(err, &statusErr) || !RetryableStatus(statusErr.Status) {
			return err
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		if logger != nil {
			logger.Warn("retrying HTTP adapter call",
				zap.Int("attempt", attempt+1),
				zap.Int("status", statusErr.Status),
				zap.Duration("backoff", backoff),
			)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
		if backoff > policy.Max {
			backoff = policy.Max
		}
	}
	return lastErr
}

// StatusError carries an HTTP status code alongside the underlying error
// so DoWithRetry can classify retryability without string matching.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string { return e.Err.Error() }
func (e *StatusError) Unwrap() error { return e.Err }
