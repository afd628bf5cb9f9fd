// Package retry runs read-modify-write units of work against versioned
// records, re-running them when the conditional write loses a version race.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/metrics"
	"go.uber.org/zap"
)

var (
	// ErrConflict is returned (wrapped) by a unit of work whose conditional
	// write found a different version than the one it read.
	ErrConflict = errors.New("version conflict")

	// ErrExhaustedRetries is returned when every attempt ended in a conflict.
	ErrExhaustedRetries = errors.New("optimistic retries exhausted")
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 50 * time.Millisecond
)

// Policy is the pure part of the retry loop: how many attempts, and how long
// to wait after a given failed attempt (1-based).
type Policy struct {
	MaxAttempts int
	Delay       func(attempt int) time.Duration
}

// Linear waits base*attempt after each conflicting attempt.
func Linear(maxAttempts int, base time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Delay: func(attempt int) time.Duration {
			return base * time.Duration(attempt)
		},
	}
}

// NoDelay retries immediately.
func NoDelay(maxAttempts int) Policy {
	return Policy{MaxAttempts: maxAttempts}
}

// DefaultPolicy is 5 attempts with 50ms linear backoff.
func DefaultPolicy() Policy {
	return Linear(DefaultMaxAttempts, DefaultBaseDelay)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) delay(attempt int) time.Duration {
	if p.Delay == nil {
		return 0
	}
	return p.Delay(attempt)
}

// Executor retries units of work on ErrConflict.
type Executor struct {
	Policy Policy
	Name   string // metrics label, e.g. "point" or "product_metrics"
	Log    *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(name string, p Policy, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{Policy: p, Name: name, Log: log, sleep: sleepContext}
}

// Execute runs fn until it succeeds, fails with a non-conflict error, or the
// policy runs out of attempts. fn must re-read state on every call.
func (e *Executor) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	max := e.Policy.attempts()
	sleep := e.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var last error
	for attempt := 1; attempt <= max; attempt++ {
		err := fn(ctx)
		if err == nil {
			metrics.OptimisticAttempts.WithLabelValues(e.Name, "success").Inc()
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			metrics.OptimisticAttempts.WithLabelValues(e.Name, "error").Inc()
			return err
		}

		metrics.OptimisticAttempts.WithLabelValues(e.Name, "conflict").Inc()
		last = err
		if attempt == max {
			break
		}

		d := e.Policy.delay(attempt)
		if e.Log != nil {
			e.Log.Debug("version conflict, retrying",
				zap.String("executor", e.Name),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", d))
		}
		if err := sleep(ctx, d); err != nil {
			return err
		}
	}

	metrics.OptimisticExhausted.WithLabelValues(e.Name).Inc()
	return fmt.Errorf("%w after %d attempts: %w", ErrExhaustedRetries, max, last)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
