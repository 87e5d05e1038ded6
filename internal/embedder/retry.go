package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/medcode-resolver/internal/metrics"
)

// FailureClass groups provider failures that share a retry policy.
type FailureClass int

const (
	ClassPermanent    FailureClass = iota // Deterministic: malformed, dimension, 4xx
	ClassModelLoading                     // HTTP 503 while the model warms up
	ClassRateLimited                      // HTTP 429
	ClassTransient                        // Other 5xx and network errors
)

func (c FailureClass) String() string {
	switch c {
	case ClassModelLoading:
		return "model_loading"
	case ClassRateLimited:
		return "rate_limited"
	case ClassTransient:
		return "transient"
	default:
		return "permanent"
	}
}

// APIError is a non-200 response from the embedding provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Body)
}

// Classify maps an error from one provider call to its failure class.
func Classify(err error) FailureClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusServiceUnavailable:
			return ClassModelLoading
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return ClassRateLimited
		case apiErr.StatusCode >= 500:
			return ClassTransient
		default:
			return ClassPermanent
		}
	}

	if errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrDimensionMismatch) ||
		errors.Is(err, ErrInvalidVector) || errors.Is(err, ErrInvalidInput) {
		return ClassPermanent
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassPermanent
	}

	// Connection resets, refused dials and timeouts surface as plain errors.
	return ClassTransient
}

// RetryConfig is a bounded retry policy with a fixed delay per failure class
type RetryConfig struct {
	MaxAttempts       int           // Total attempts including the first
	ModelLoadingDelay time.Duration // Wait after HTTP 503
	RateLimitDelay    time.Duration // Wait after HTTP 429
	TransientDelay    time.Duration // Wait after other 5xx and network errors
}

// DefaultRetryConfig returns the production retry policy
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       DefaultMaxAttempts,
		ModelLoadingDelay: DefaultModelLoadingDelay,
		RateLimitDelay:    DefaultRateLimitDelay,
		TransientDelay:    DefaultTransientDelay,
	}
}

// Delay returns how long to wait before retrying a failure of class c.
func (r RetryConfig) Delay(c FailureClass) time.Duration {
	switch c {
	case ClassModelLoading:
		return r.ModelLoadingDelay
	case ClassRateLimited:
		return r.RateLimitDelay
	default:
		return r.TransientDelay
	}
}

// withRetry calls fn until it succeeds, fails permanently, or MaxAttempts is
// reached. Sleeps between attempts end early when ctx is cancelled.
func withRetry[T any](ctx context.Context, cfg RetryConfig, stats *CallStats, logger zerolog.Logger, fn func() (T, error)) (T, error) {
	var zero T
	if stats == nil {
		stats = &CallStats{}
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		class := Classify(err)
		if class == ClassRateLimited {
			stats.RateLimitHits++
			metrics.EmbeddingRateLimitHits.Inc()
		}

		if class == ClassPermanent {
			return zero, err
		}
		if attempt >= maxAttempts {
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrProviderFailed, attempt, err)
		}

		delay := cfg.Delay(class)
		stats.Retries++
		metrics.EmbeddingRetries.WithLabelValues(class.String()).Inc()
		logger.Debug().
			Int("attempt", attempt).
			Str("class", class.String()).
			Dur("delay", delay).
			Err(err).
			Msg("embedding call failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
