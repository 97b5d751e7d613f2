// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package store

import (
	"log/slog"

	"github.com/velopad/telemetry/internal/options"
)

type (
	// Option represents a single store option.
	Option interface{ store(*Options) }

	// Options are the resolved store options.
	Options struct {
		CompactionThreshold int
		Retention           int
		Logger              *slog.Logger
	}

	// QueryOption represents a single range query bound.
	QueryOption interface{ query(*QueryOptions) }

	// QueryOptions are the resolved range query bounds. Bounds are inclusive
	// and expressed in device milliseconds.
	QueryOptions struct {
		Start *int64
		End   *int64
	}

	// WithCompactionThreshold sets how many consumed entries a subscription
	// stream may retain before it discards them.
	WithCompactionThreshold int

	// WithRetention bounds each channel history to roughly the newest n
	// samples. Zero (the default) keeps everything.
	WithRetention int

	// WithStart sets the inclusive lower bound of a range query.
	WithStart int64

	// WithEnd sets the inclusive upper bound of a range query.
	WithEnd int64

	// This option is not used directly; see WithLogger below.
	withLogger struct{ *slog.Logger }
)

// DefaultCompactionThreshold is 5MiB worth of 64-bit entries.
const DefaultCompactionThreshold = (5 * 1024 * 1024) / 64

// Apply resolves the provided list of options.
func (o *Options) Apply(opts []Option, rest ...Option) {
	for opt := range options.Apply[Option](opts, rest...) {
		opt.store(o)
	}
}

func (o *Options) store(opt *Options) {
	if o != nil {
		*opt = *o
	}
}

func (o WithCompactionThreshold) store(opt *Options) {
	opt.CompactionThreshold = int(o)
}

func (o WithRetention) store(opt *Options) {
	opt.Retention = int(o)
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

func (o withLogger) store(opt *Options) {
	opt.Logger = o.Logger
}

// Apply resolves the provided list of query options.
func (o *QueryOptions) Apply(opts []QueryOption, rest ...QueryOption) {
	for opt := range options.Apply[QueryOption](opts, rest...) {
		opt.query(o)
	}
}

func (o WithStart) query(opt *QueryOptions) {
	v := int64(o)
	opt.Start = &v
}

func (o WithEnd) query(opt *QueryOptions) {
	v := int64(o)
	opt.End = &v
}
