// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package transport provides the line-oriented links to a pad controller:
// a WebSocket relay, a directly attached serial port, and a simulated device.
package transport

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/velopad/telemetry/internal/options"
	"github.com/velopad/telemetry/sensor"
)

type (
	// Transport is a bidirectional, newline-delimited text link. ReadLine
	// returns one line without its terminator; WriteLine sends one line,
	// terminating it if needed. ReadLine and WriteLine may be called
	// concurrently with each other, but each from a single goroutine.
	Transport interface {
		ReadLine(ctx context.Context) (string, error)
		WriteLine(ctx context.Context, line string) error
		Close() error
	}

	// Provider opens a new transport.
	Provider func(ctx context.Context) (Transport, error)

	// Option represents a single transport option.
	Option interface{ transport(*Options) }

	// Options are the resolved transport options.
	Options struct {
		Logger     *slog.Logger
		Tick       time.Duration
		Thresholds []sensor.Threshold
	}

	// WithTick sets the interval between simulated readings.
	WithTick time.Duration

	// WithThresholds sets the initial thresholds of a simulated device.
	WithThresholds []sensor.Threshold

	withLogger struct{ *slog.Logger }
)

// DefaultTick matches the controller's sampling rate.
const DefaultTick = 50 * time.Millisecond

// Apply resolves the provided list of options.
func (o *Options) Apply(opts []Option, rest ...Option) {
	for opt := range options.Apply[Option](opts, rest...) {
		opt.transport(o)
	}
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

func (o withLogger) transport(opt *Options) {
	opt.Logger = o.Logger
}

func (o WithTick) transport(opt *Options) {
	opt.Tick = time.Duration(o)
}

func (o WithThresholds) transport(opt *Options) {
	opt.Thresholds = o
}

// Accumulates raw bytes and yields complete lines. Partial trailing data is
// kept until its terminator arrives.
type lineBuffer struct {
	pending strings.Builder
	lines   []string
}

func (b *lineBuffer) write(p []byte) {
	for _, c := range p {
		if c == '\n' {
			b.lines = append(b.lines, strings.TrimRight(b.pending.String(), "\r"))
			b.pending.Reset()
			continue
		}
		b.pending.WriteByte(c)
	}
}

// Push a whole message as at least one line, even without a terminator.
func (b *lineBuffer) writeMessage(p []byte) {
	b.write(p)
	if b.pending.Len() > 0 {
		b.lines = append(b.lines, strings.TrimRight(b.pending.String(), "\r"))
		b.pending.Reset()
	}
}

func (b *lineBuffer) next() (string, bool) {
	if len(b.lines) == 0 {
		return "", false
	}
	line := b.lines[0]
	b.lines = b.lines[1:]
	return line, true
}
