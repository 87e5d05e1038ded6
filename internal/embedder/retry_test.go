package embedder

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		ModelLoadingDelay: time.Millisecond,
		RateLimitDelay:    2 * time.Millisecond,
		TransientDelay:    time.Millisecond,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"503", &APIError{StatusCode: 503}, ClassModelLoading},
		{"429", &APIError{StatusCode: 429}, ClassRateLimited},
		{"500", &APIError{StatusCode: 500}, ClassTransient},
		{"502 wrapped", fmt.Errorf("call: %w", &APIError{StatusCode: 502}), ClassTransient},
		{"400", &APIError{StatusCode: 400}, ClassPermanent},
		{"malformed", fmt.Errorf("%w: bad", ErrMalformedResponse), ClassPermanent},
		{"dimension", ErrDimensionMismatch, ClassPermanent},
		{"invalid vector", ErrInvalidVector, ClassPermanent},
		{"cancelled", context.Canceled, ClassPermanent},
		{"network", errors.New("connection reset by peer"), ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestRetryConfigDelay(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, DefaultModelLoadingDelay, cfg.Delay(ClassModelLoading))
	assert.Equal(t, DefaultRateLimitDelay, cfg.Delay(ClassRateLimited))
	assert.Equal(t, DefaultTransientDelay, cfg.Delay(ClassTransient))
	assert.Greater(t, cfg.RateLimitDelay, cfg.ModelLoadingDelay)
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		stats := &CallStats{}
		calls := 0
		got, err := withRetry(ctx, fastRetry(), stats, log, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, &APIError{StatusCode: 500}
			}
			return 7, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 7, got)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, stats.Retries)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		stats := &CallStats{}
		calls := 0
		_, err := withRetry(ctx, fastRetry(), stats, log, func() (int, error) {
			calls++
			return 0, &APIError{StatusCode: 503}
		})
		assert.ErrorIs(t, err, ErrProviderFailed)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 503, apiErr.StatusCode)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, stats.Retries)
	})

	t.Run("counts rate limit hits", func(t *testing.T) {
		stats := &CallStats{}
		calls := 0
		_, err := withRetry(ctx, fastRetry(), stats, log, func() (int, error) {
			calls++
			if calls == 1 {
				return 0, &APIError{StatusCode: 429}
			}
			return 1, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, stats.RateLimitHits)
	})

	t.Run("permanent failures are not retried", func(t *testing.T) {
		calls := 0
		_, err := withRetry(ctx, fastRetry(), nil, log, func() (int, error) {
			calls++
			return 0, ErrMalformedResponse
		})
		assert.ErrorIs(t, err, ErrMalformedResponse)
		assert.NotErrorIs(t, err, ErrProviderFailed)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancellation interrupts the delay", func(t *testing.T) {
		cfg := fastRetry()
		cfg.RateLimitDelay = time.Hour
		cctx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		_, err := withRetry(cctx, cfg, nil, log, func() (int, error) {
			return 0, &APIError{StatusCode: 429}
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("zero attempts still calls once", func(t *testing.T) {
		calls := 0
		_, _ = withRetry(ctx, RetryConfig{}, nil, log, func() (int, error) {
			calls++
			return 0, &APIError{StatusCode: 500}
		})
		assert.Equal(t, 1, calls)
	})
}
