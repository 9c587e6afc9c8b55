package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ReconnectConfig holds configuration for reconnection logic
type ReconnectConfig struct {
	MaxAttempts int           // Maximum number of reconnection attempts
	Backoff     time.Duration // Initial backoff duration between attempts
	Multiplier  float64       // Backoff multiplier for exponential backoff
	MaxBackoff  time.Duration // Maximum backoff duration

	// OnAttempt, if set, is invoked before each attempt with the 1-based
	// attempt number and the delay that preceded it.
	OnAttempt func(attempt int, waited time.Duration)
}

// DefaultReconnectConfig returns a default reconnection configuration
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     1 * time.Second,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
}

// ReconnectFunc is a function that attempts to reconnect
type ReconnectFunc func() error

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error to signal that reconnection must stop immediately,
// regardless of remaining attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether an error was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// BackoffForAttempt returns the delay preceding the given 1-based attempt:
// backoff * multiplier^(attempt-1), capped at maxBackoff.
func BackoffForAttempt(attempt int, backoff, maxBackoff time.Duration, multiplier float64) time.Duration {
	d := backoff
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * multiplier)
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Reconnect attempts to reconnect with exponential backoff. The first attempt
// waits the initial backoff; each subsequent attempt doubles the wait up to
// MaxBackoff. A context cancellation or a Permanent error stops the loop.
func Reconnect(ctx context.Context, fn ReconnectFunc, config *ReconnectConfig) error {
	if config == nil {
		config = DefaultReconnectConfig()
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		wait := BackoffForAttempt(attempt, config.Backoff, config.MaxBackoff, config.Multiplier)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		if config.OnAttempt != nil {
			config.OnAttempt(attempt, wait)
		}

		err := fn()
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed to reconnect after %d attempts: %w", config.MaxAttempts, lastErr)
}
