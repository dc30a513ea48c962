package utils

import (
	"context"
	"time"
)

// TimeoutConfig holds timeout configuration for different operations
type TimeoutConfig struct {
	CaptureTimeout  time.Duration // Hard limit for one capture backend invocation
	AssetTimeout    time.Duration // Favicon, screenshot and PDF extraction
	CheckTimeout    time.Duration // Live fetches made by integrity checks
	RegisterTimeout time.Duration // Calls to the change-notification service
}

// DefaultTimeoutConfig returns sensible default timeouts. Check fetches stay
// well below capture timeouts so a slow site cannot stall a sweep.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		CaptureTimeout:  2 * time.Minute,
		AssetTimeout:    60 * time.Second,
		CheckTimeout:    15 * time.Second,
		RegisterTimeout: 30 * time.Second,
	}
}

// WithTimeout runs fn under a context that expires after timeout. It returns
// as soon as the deadline passes even if fn has not yet noticed.
func WithTimeout(parent context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
