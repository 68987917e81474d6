package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterDisabledCallsThrough(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Enabled: false})
	defer rl.Close()

	called := false
	err := rl.Do(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestRateLimiterRetriesThrottlingErrors(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 1000,
		BurstCapacity:     10,
		MaxRetries:        2,
		RetryBackoff:      time.Millisecond,
		QueueTimeout:      time.Second,
	})
	defer rl.Close()

	attempts := 0
	err := rl.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("429 throttled")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	metrics := rl.Metrics()
	assert.Equal(t, int64(2), metrics.ThrottledRequests)
}

func TestRateLimiterDoesNotRetryNonThrottlingErrors(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 1000,
		BurstCapacity:     10,
		MaxRetries:        2,
		RetryBackoff:      time.Millisecond,
		QueueTimeout:      time.Second,
	})
	defer rl.Close()

	attempts := 0
	err := rl.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRateLimitedAdapterWrapsInvoke(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Enabled:           true,
		RequestsPerSecond: 1000,
		BurstCapacity:     10,
		QueueTimeout:      time.Second,
	})
	defer rl.Close()

	wrapped := NewRateLimited(stubAdapter{}, rl)
	text, err := wrapped.Invoke(context.Background(), "hello", "model", "", false)
	require.NoError(t, err)
	assert.Equal(t, "stub:hello", text)
}
