package loader

import (
	"context"
	"errors"
	"log"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior for repository fetches.
// The default is zero retries: repository loads are user-triggered and the
// UI surfaces an explicit reload action instead.
type RetryConfig struct {
	MaxRetries int           // Maximum retry attempts (default: 0)
	BaseDelay  time.Duration // Initial delay between retries (default: 100ms)
	MaxDelay   time.Duration // Maximum delay between retries (default: 5s)
	Multiplier float64       // Delay multiplier for exponential backoff (default: 2.0)
	EnableLog  bool          // Whether to log retry attempts
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 0,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		EnableLog:  true,
	}
}

// RetryableFunc is a fetch that can be retried.
type RetryableFunc func(ctx context.Context) ([]byte, error)

// WithRetry wraps a fetch with retry logic.
func WithRetry(ctx context.Context, repo string, cfg RetryConfig, fn RetryableFunc) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 && cfg.EnableLog {
				log.Printf("[Loader/%s] Succeeded on attempt %d", repo, attempt+1)
			}
			return result, nil
		}

		lastErr = err

		if !shouldRetry(err) {
			return nil, err
		}

		// Don't sleep after the last attempt.
		if attempt < cfg.MaxRetries {
			delay := calculateDelay(attempt, cfg)
			if cfg.EnableLog {
				log.Printf("[Loader/%s] Attempt %d failed (%v), retrying in %v...", repo, attempt+1, err, delay)
			}

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, lastErr
}

// shouldRetry determines if an error should be retried.
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}

	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Retryable
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.IsRetryable()
	}

	return isRetryableError(err)
}

// calculateDelay computes the delay for the given attempt using exponential
// backoff with jitter.
func calculateDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	// Jitter between 80% and 120% to prevent thundering herd.
	jitter := 0.8 + rand.Float64()*0.4
	delay *= jitter

	return time.Duration(delay)
}
