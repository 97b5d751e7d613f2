// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package retry

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/velopad/telemetry/internal/log"
	"github.com/velopad/telemetry/internal/wallclock"
)

// Defaults for ExponentialBackoff.
const (
	DefaultMinInterval = time.Second
	DefaultMaxInterval = 30 * time.Second
)

// ExponentialBackoff doubles the wait after each failed attempt, up to a cap,
// and spreads it with jitter. It reattaches to a device that was unplugged or
// a relay that went away.
type ExponentialBackoff struct {
	// MaxAttempts bounds the attempts; zero means unlimited.
	MaxAttempts uint64

	// MinInterval is the first wait. Defaults to DefaultMinInterval.
	MinInterval time.Duration

	// MaxInterval caps the wait. Defaults to DefaultMaxInterval.
	MaxInterval time.Duration

	// NoJitter makes waits exact.
	NoJitter bool

	Logger *slog.Logger
}

// Start runs the task until it succeeds. The last error is returned when the
// task fails permanently, the attempts run out or the context ends.
func (e *ExponentialBackoff) Start(
	ctx context.Context,
	name string,
	task Task,
) error {
	l := log.Wrap(e.Logger)

	for attempt := uint64(1); ; attempt++ {
		err := task(ctx)
		if err == nil {
			if attempt > 1 {
				l.Info(ctx, "retry succeeded",
					slog.String("task", name),
					slog.Uint64("attempt", attempt),
				)
			}
			return nil
		}

		if IsPermanent(err) ||
			attempt == e.MaxAttempts ||
			ctx.Err() != nil {
			l.Warn(ctx, err,
				slog.String("task", name),
				slog.Uint64("attempt", attempt),
			)
			return err
		}

		wait := e.Interval(attempt)
		l.Debug(ctx, "retrying",
			slog.String("task", name),
			slog.Uint64("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)

		select {
		case <-wallclock.Instance.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Interval returns the wait after the given failed attempt, jitter included
// unless disabled.
func (e *ExponentialBackoff) Interval(attempt uint64) time.Duration {
	lo, hi := e.MinInterval, e.MaxInterval
	if lo <= 0 {
		lo = DefaultMinInterval
	}
	if hi <= 0 {
		hi = DefaultMaxInterval
	}

	wait := lo
	for i := uint64(1); i < attempt && wait < hi; i++ {
		wait *= 2
	}
	wait = min(wait, hi)

	if e.NoJitter {
		return wait
	}
	// Between 50% and 150% of the base wait.
	return time.Duration(float64(wait) * (.5 + rand.Float64())) // #nosec G404
}
