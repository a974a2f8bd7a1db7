package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/helmsman-ai/helmsman/core"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig provides sensible defaults
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     5 * time.Second,
	}
}

// Retry executes fn until it succeeds, the attempts run out, or the
// error classifies as permanent. Delay scales linearly with the
// attempt number, capped at MaxDelay.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		// Permanent failures never improve with another attempt.
		if core.IsPermanent(lastErr) {
			return lastErr
		}
		if attempt == config.MaxAttempts {
			break
		}

		delay := time.Duration(attempt) * config.InitialDelay
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded for %v: %w", config.MaxAttempts, lastErr, core.ErrMaxRetriesExceeded)
}
