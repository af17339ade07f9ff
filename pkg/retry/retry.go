// Package retry provides retry logic with exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int           // Maximum number of attempts (0 = unlimited until ctx is done)
	InitialWait time.Duration // Initial wait time
	MaxWait     time.Duration // Maximum wait time
	Multiplier  float64       // Backoff multiplier
	Jitter      float64       // Jitter factor (0-1)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// RetryableError wraps an error that should be retried.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string {
	return e.Err.Error()
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error should be retried.
func IsRetryable(err error) bool {
	var retryable RetryableError
	return errors.As(err, &retryable)
}

// Retryable wraps an error to mark it as retryable.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err}
}

// policy builds the backoff schedule for cfg bound to ctx.
func (cfg Config) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.InitialWait
	eb.MaxInterval = cfg.MaxWait
	eb.Multiplier = cfg.Multiplier
	eb.RandomizationFactor = cfg.Jitter
	eb.MaxElapsedTime = 0
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = time.Millisecond
	}
	if eb.MaxInterval < eb.InitialInterval {
		eb.MaxInterval = eb.InitialInterval
	}
	if eb.Multiplier < 1 {
		eb.Multiplier = 1
	}
	eb.Reset()

	var b backoff.BackOff = eb
	if cfg.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// permanent stops the backoff loop for errors not marked retryable.
func permanent(err error) error {
	if err == nil || IsRetryable(err) {
		return err
	}
	return backoff.Permanent(err)
}

// Do executes fn with retries.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	return backoff.Retry(func() error {
		return permanent(fn())
	}, cfg.policy(ctx))
}

// DoWithResult executes fn with retries and returns a result.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	return backoff.RetryWithData(func() (T, error) {
		r, err := fn()
		return r, permanent(err)
	}, cfg.policy(ctx))
}
