package utils

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig holds the parameters for the retry strategy. A zero BaseDelay
// retries immediately.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *Logger
}

// Do executes fn with exponential back-off retry logic.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, r, operationName, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Retry runs fn up to r.MaxAttempts times and returns the first successful
// value. Only the attempt count carries over between attempts.
func Retry[T any](ctx context.Context, r *RetryConfig, operationName string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := r.BaseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s cancelled: %w", operationName, err)
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if r.Logger != nil {
			r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v — retrying in %v",
				operationName, attempt, attempts, err, delay)
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("%s cancelled: %w", operationName, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, lastErr)
}
