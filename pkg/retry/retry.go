package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	apperrors "rillview/pkg/errors"
)

// Config holds retry configuration
type Config struct {
	Enabled      bool          // Enable/disable retry logic
	MaxAttempts  int           // Retries after the first call; <= 0 is unlimited for Backoff
	InitialDelay time.Duration // Initial delay before first retry
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Exponential backoff multiplier (typically 2.0)
	Jitter       bool          // Add up to 25% random jitter

	// ShouldRetry classifies errors. Nil uses apperrors.IsRetryable, so
	// auth and negotiation failures stop immediately.
	ShouldRetry func(err error) bool
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retry calls fn until it succeeds, returns a non-retryable error, runs out
// of attempts, or ctx ends.
func Retry(ctx context.Context, cfg Config, fn func() error) error {
	if !cfg.Enabled {
		return fn()
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = apperrors.IsRetryable
	}

	backoff := NewBackoff(cfg)
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(backoff.Next())
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during wait: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}

// calculateDelay is InitialDelay * Multiplier^attempt, capped at MaxDelay,
// plus optional jitter that also respects the cap.
func calculateDelay(cfg Config, attempt int) time.Duration {
	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(multiplier, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	duration := time.Duration(delay)
	if cfg.Jitter && duration > 0 {
		duration += time.Duration(rand.Int63n(int64(duration/4) + 1))
		if cfg.MaxDelay > 0 && duration > cfg.MaxDelay {
			duration = cfg.MaxDelay
		}
	}
	return duration
}

// Backoff hands out reconnect delays. Successive delays never decrease and
// never exceed MaxDelay, jitter included. Not safe for concurrent use.
type Backoff struct {
	cfg     Config
	attempt int
	last    time.Duration
}

func NewBackoff(cfg Config) *Backoff {
	return &Backoff{cfg: cfg}
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	d := calculateDelay(b.cfg, b.attempt)
	if d < b.last {
		d = b.last
	}
	b.last = d
	b.attempt++
	return d
}

// Attempts returns how many delays were handed out since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempt
}

// Exhausted reports whether MaxAttempts delays were handed out.
// MaxAttempts <= 0 means unlimited.
func (b *Backoff) Exhausted() bool {
	return b.cfg.MaxAttempts > 0 && b.attempt >= b.cfg.MaxAttempts
}

// Reset restarts the sequence at InitialDelay.
func (b *Backoff) Reset() {
	b.attempt = 0
	b.last = 0
}
