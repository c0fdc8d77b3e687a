// Package retry implements bounded retry with exponential backoff and jitter
// for calls that can fail transiently (network and backend faults).
//
// It is deliberately unaware of issues and strategies: the scheduler's
// "try the next strategy" loop lives in package scheduler.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy configures retry behavior.
type Policy struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int

	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration

	// Multiplier grows the delay after each failure (default: 2).
	Multiplier float64

	// MaxDelay caps every computed delay. Zero means no ceiling.
	MaxDelay time.Duration

	// Jitter scales each delay by a uniform factor in [0.5, 1.0].
	Jitter bool

	// Retryable decides whether an error is worth another attempt.
	// Defaults to IsTransient.
	Retryable func(error) bool

	// Logger receives one entry per scheduled retry.
	Logger *zap.Logger

	random func() float64
	sleep  func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the policy used for backend calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     10 * time.Second,
		Jitter:       true,
	}
}

// Validate checks the policy parameters.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("retry: initial delay cannot be negative")
	}
	if p.Multiplier < 0 {
		return fmt.Errorf("retry: multiplier cannot be negative")
	}
	if p.MaxDelay < 0 {
		return fmt.Errorf("retry: max delay cannot be negative")
	}
	return nil
}

// backoff returns the wait before the next attempt after the given number of
// failures (1-based), before jitter.
func (p Policy) backoff(failures int) time.Duration {
	mult := p.Multiplier
	if mult == 0 {
		mult = 2.0
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(failures-1))
	if math.IsInf(d, 0) || d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// NextDelay computes the delay that follows the given number of failures,
// applying jitter and the ceiling.
func (p Policy) NextDelay(failures int) time.Duration {
	d := p.backoff(failures)
	if p.Jitter {
		r := p.random
		if r == nil {
			r = rand.Float64
		}
		d = time.Duration(float64(d) * (0.5 + r()*0.5))
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do invokes op until it succeeds, fails with a non-retryable error, or the
// attempts are exhausted. On exhaustion the last error is returned as is.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}

	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("operation recovered after retries", zap.Int("attempts", attempt))
			}
			return v, nil
		}
		lastErr = err

		if !retryable(err) {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.NextDelay(attempt)
		logger.Warn("retrying after transient error",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		if serr := sleep(ctx, delay); serr != nil {
			return zero, errors.Join(lastErr, serr)
		}
	}

	logger.Warn("operation failed after all retries",
		zap.Int("attempts", p.MaxAttempts),
		zap.Error(lastErr))
	return zero, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
