// Package retry wraps cenkalti/backoff with the fixed-delay policies used
// while bringing up sensors, the network link and the broker session.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/LeonardoBeccarini/roomsense/pkg/logging"
)

// Policy retries an operation with a constant delay between attempts.
// MaxAttempts <= 0 retries until the context is cancelled.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Logger      *slog.Logger
}

// Forever returns an unbounded policy with the given delay.
func Forever(delay time.Duration) Policy {
	return Policy{Delay: delay}
}

// Bounded returns a policy giving up after attempts tries.
func Bounded(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: delay}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = backoff.NewConstantBackOff(p.Delay)
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// Do runs fn until it succeeds, the attempts are exhausted or ctx is done.
// Every failed attempt is logged at warn level under name. Wrap an error with
// backoff.Permanent to stop immediately.
func (p Policy) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	log := logging.Or(p.Logger)
	attempt := 0
	op := func() error {
		attempt++
		return fn(ctx)
	}
	notify := func(err error, next time.Duration) {
		log.Warn("attempt failed", "op", name, "attempt", attempt, "retry_in", next, "err", err)
	}
	if err := backoff.RetryNotify(op, p.backOff(ctx), notify); err != nil {
		return fmt.Errorf("%s: giving up after %d attempts: %w", name, attempt, err)
	}
	if attempt > 1 {
		log.Info("recovered", "op", name, "attempts", attempt)
	}
	return nil
}
