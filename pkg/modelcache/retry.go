package modelcache

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior for remote fetches.
type RetryConfig struct {
	MaxRetries    int           // Maximum number of retry attempts
	InitialDelay  time.Duration // Initial delay before first retry
	MaxDelay      time.Duration // Maximum delay between retries
	BackoffFactor float64       // Exponential backoff multiplier
	JitterPercent float32       // Random jitter percentage (0.0-1.0)
}

// DefaultRetryConfig provides defaults for hub downloads.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:    3,
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      30 * time.Second,
	BackoffFactor: 2.0,
	JitterPercent: 0.1,
}

// retry runs fn until it succeeds, returns a fatal error, or the attempts are
// exhausted. Each attempt gets its own timeout when timeout > 0.
func retry(ctx context.Context, cfg RetryConfig, timeout time.Duration, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := cfg.backoff(attempt)
			logger.Info("Retrying remote fetch",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("last_error", lastErr.Error()))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := runAttempt(ctx, timeout, fn)
		if err == nil {
			if attempt > 0 {
				logger.Info("Remote fetch succeeded after retry",
					slog.String("op", op),
					slog.Int("attempts", attempt+1))
			}
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return err
		}

		if IsFatal(err) {
			logger.Error("Fatal error during remote fetch, not retrying",
				slog.String("op", op),
				slog.String("error", err.Error()),
				slog.Int("attempt", attempt+1))
			return err
		}

		logger.Warn("Recoverable error during remote fetch",
			slog.String("op", op),
			slog.String("error", err.Error()),
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", cfg.MaxRetries))
	}

	return fmt.Errorf("exhausted all retry attempts (%d): %w", cfg.MaxRetries, lastErr)
}

func runAttempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(attemptCtx)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return NewRecoverableError(err, fmt.Sprintf("fetch timed out after %s", timeout))
	}
	return err
}

// backoff computes the delay before the given retry attempt.
func (c RetryConfig) backoff(attempt int) time.Duration {
	// delay = initialDelay * (backoffFactor ^ (attempt-1))
	delay := float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(attempt-1))

	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	if c.JitterPercent > 0 {
		jitterRange := delay * float64(c.JitterPercent)
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
	}

	if delay < 0 {
		delay = float64(c.InitialDelay)
	}

	return time.Duration(delay)
}
