package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// RetryConfig holds configuration for retry behavior
type RetryConfig struct {
	MaxRetries        int
	BackoffType       BackoffType
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// BackoffType defines the type of backoff strategy
type BackoffType int

const (
	LinearBackoff BackoffType = iota
	ExponentialBackoff
	FixedBackoff
)

// DefaultRetryConfig returns the capture retry policy: three retries after the
// first attempt, doubling from one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		BackoffType:       ExponentialBackoff,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ErrRetriesExhausted wraps the last error once every attempt has failed.
var ErrRetriesExhausted = errors.New("max retries exceeded")

// WithRetryConfig runs fn until it succeeds, returns a permanent error, the
// context ends, or MaxRetries retries have been spent. attempt is 1-based.
func WithRetryConfig(ctx context.Context, fn func(attempt int) error, logWriter io.Writer, config RetryConfig) error {
	var lastErr error
	total := config.MaxRetries + 1
	for attempt := 1; attempt <= total; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		fmt.Fprintf(logWriter, "Error (attempt %d/%d): %v\n", attempt, total, err)
		if IsPermanent(err) {
			return err
		}
		if attempt == total {
			break
		}
		delay := calculateBackoff(attempt, config)
		fmt.Fprintf(logWriter, "Retrying in %v...\n", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%w (%d attempts): %w", ErrRetriesExhausted, total, lastErr)
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	switch config.BackoffType {
	case ExponentialBackoff:
		delay := time.Duration(float64(config.InitialDelay) * pow(config.BackoffMultiplier, attempt-1))
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			return config.MaxDelay
		}
		return delay
	case LinearBackoff:
		delay := config.InitialDelay * time.Duration(attempt)
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			return config.MaxDelay
		}
		return delay
	default:
		return config.InitialDelay
	}
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
