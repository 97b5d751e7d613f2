// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package relay

import (
	"log/slog"
	"time"

	"github.com/velopad/telemetry/internal/options"
)

type (
	// Option represents a single relay option.
	Option interface{ relay(*Options) }

	// Options are the resolved relay options.
	Options struct {
		Logger            *slog.Logger
		ReconnectInterval time.Duration
		QueueSize         int
	}

	// WithReconnectInterval sets the first delay before reopening a failed
	// device. Later delays back off exponentially.
	WithReconnectInterval time.Duration

	// WithQueueSize sets how many lines may wait for a slow client before
	// further lines to it are dropped.
	WithQueueSize int

	withLogger struct{ *slog.Logger }
)

// DefaultQueueSize is the per-client line queue length.
const DefaultQueueSize = 256

// Apply resolves the provided list of options.
func (o *Options) Apply(opts []Option, rest ...Option) {
	for opt := range options.Apply[Option](opts, rest...) {
		opt.relay(o)
	}
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

func (o withLogger) relay(opt *Options) {
	opt.Logger = o.Logger
}

func (o WithReconnectInterval) relay(opt *Options) {
	opt.ReconnectInterval = time.Duration(o)
}

func (o WithQueueSize) relay(opt *Options) {
	opt.QueueSize = int(o)
}
