// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package device

import (
	"log/slog"

	"github.com/velopad/telemetry/internal/options"
)

type (
	// Option represents a single connection option.
	Option interface{ connection(*Options) }

	// Options are the resolved connection options.
	Options struct {
		Logger *slog.Logger
		Debug  bool
	}

	// WithDebug traces every inbound and outbound frame at info level.
	WithDebug bool

	withLogger struct{ *slog.Logger }
)

// Apply resolves the provided list of options.
func (o *Options) Apply(opts []Option, rest ...Option) {
	for opt := range options.Apply[Option](opts, rest...) {
		opt.connection(o)
	}
}

func (o *Options) connection(opt *Options) {
	if o != nil {
		*opt = *o
	}
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

func (o withLogger) connection(opt *Options) {
	opt.Logger = o.Logger
}

func (o WithDebug) connection(opt *Options) {
	opt.Debug = bool(o)
}
