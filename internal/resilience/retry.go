package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls a bounded retry loop driven by a precomputed backoff
// table. Backoff[i] is the delay slept after attempt i+1 fails, so a table of
// length n allows at most n+1 attempts.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// Default: len(Backoff)+1, or 3 when Backoff is empty.
	MaxAttempts int

	// Backoff is the delay table. Missing entries reuse the last one.
	Backoff []time.Duration

	// JitterFraction adds random jitter as a fraction of each delay
	// (0.0 = no jitter, 0.5 = ±50%).
	JitterFraction float64

	// ShouldRetry optionally overrides the default IsRetryable check.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep with attempt number and error.
	OnRetry func(attempt int, err error)

	// Sleep waits for d or until ctx is done. Default: SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ExponentialTable returns n delays starting at initial and doubling each
// step, capped at maxDelay.
func ExponentialTable(initial, maxDelay time.Duration, n int) []time.Duration {
	if n <= 0 {
		return nil
	}
	table := make([]time.Duration, n)
	d := initial
	for i := range table {
		if d > maxDelay {
			d = maxDelay
		}
		table[i] = d
		d *= 2
	}
	return table
}

// LinearTable returns n delays growing by step each attempt (step, 2*step, ...).
func LinearTable(step time.Duration, n int) []time.Duration {
	if n <= 0 {
		return nil
	}
	table := make([]time.Duration, n)
	for i := range table {
		table[i] = step * time.Duration(i+1)
	}
	return table
}

// Delay returns the table delay after the given zero-based attempt.
func (c RetryConfig) Delay(attempt int) time.Duration {
	if len(c.Backoff) == 0 {
		return 0
	}
	if attempt >= len(c.Backoff) {
		attempt = len(c.Backoff) - 1
	}
	d := float64(c.Backoff[attempt])
	if c.JitterFraction > 0 {
		d += (rand.Float64()*2 - 1) * d * c.JitterFraction
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Do executes fn with retry logic according to cfg. It retries only on
// errors deemed retryable. Context cancellation stops retries immediately.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal executes fn returning a value with retry logic. Same semantics as Do
// but preserves the return value from the successful call.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}
		if !cfg.ShouldRetry(lastErr) {
			return zero, lastErr
		}
		if attempt >= cfg.MaxAttempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr)
		}
		if err := cfg.Sleep(ctx, cfg.Delay(attempt)); err != nil {
			return zero, lastErr
		}
	}

	return zero, lastErr
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = len(cfg.Backoff) + 1
		if len(cfg.Backoff) == 0 {
			cfg.MaxAttempts = 3
		}
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = IsRetryable
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepContext
	}
	return cfg
}

// SleepContext sleeps for d, returning early with ctx.Err() if ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.String("kind", KindOf(err).String()),
			zap.Error(err),
		)
	}
}
