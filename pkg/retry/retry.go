// Package retry implements the fixed-delay retry policy shared by all
// LLM provider adapters.
package retry

import (
	"context"
	"time"
)

// Config defines retry behavior. The provider contract specifies a
// fixed delay between attempts rather than exponential backoff: LLM
// calls are long-running and the per-attempt timeout already bounds
// the budget.
type Config struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultConfig returns 3 attempts with a 1s pause between them.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries: 3,
		Delay:      time.Second,
	}
}

// RetryableError is implemented by errors that explicitly declare
// their retryability. Provider errors implement it so this package
// never has to import them.
type RetryableError interface {
	error
	IsRetryable() bool
}

// IsRetryable reports whether an error is transient and worth
// retrying. Errors that do not declare retryability are treated as
// permanent: guessing from message text risks hammering a service that
// refused the connection outright.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if r, ok := err.(RetryableError); ok {
		return r.IsRetryable()
	}
	return false
}

// DoWithResult executes fn up to cfg.MaxRetries times, pausing
// cfg.Delay between attempts. Non-retryable errors return immediately.
// Context cancellation aborts the wait and returns ctx.Err().
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, int, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var zero T
	var lastErr error
	attempts := 0

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		attempts++
		result, err := fn()
		if err == nil {
			return result, attempts, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, attempts, err
		}

		if attempt < cfg.MaxRetries-1 {
			select {
			case <-time.After(cfg.Delay):
			case <-ctx.Done():
				return zero, attempts, ctx.Err()
			}
		}
	}

	return zero, attempts, lastErr
}

// Do executes fn with the same policy as DoWithResult for functions
// without a result value.
func Do(ctx context.Context, cfg *Config, fn func() error) (int, error) {
	_, attempts, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return attempts, err
}
