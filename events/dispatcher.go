// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package events provides the notification registry that tells consumers
// when thresholds or device messages arrive.
package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/velopad/telemetry/errors"
	"github.com/velopad/telemetry/internal/container"
	"github.com/velopad/telemetry/internal/errutil"
	"github.com/velopad/telemetry/internal/log"
	"github.com/velopad/telemetry/internal/options"
)

type (
	// Kind identifies a category of event.
	Kind int

	// ID identifies a registered handler.
	ID string

	// Event is a single notification. Message is only set for
	// MessageReceived.
	Event struct {
		Kind    Kind
		Message string
	}

	// Handler is invoked synchronously for each fired event of its kind.
	Handler func(context.Context, Event)

	// Dispatcher is a registry of handlers per event kind. Handlers run in
	// no particular order, outside of any registry lock, so a handler may
	// subscribe or unsubscribe freely.
	Dispatcher struct {
		handlers *container.SyncMap[ID, entry]
		log      log.Logger
	}

	// Option represents a single dispatcher option.
	Option interface{ dispatcher(*Options) }

	// Options are the resolved dispatcher options.
	Options struct {
		Logger *slog.Logger
	}

	withLogger struct{ *slog.Logger }

	entry struct {
		id      ID
		kind    Kind
		handler Handler
	}
)

const (
	// ThresholdsReceived fires after the store applies a threshold report or
	// update from the device.
	ThresholdsReceived Kind = iota

	// MessageReceived fires for every free-form device message.
	MessageReceived
)

func (k Kind) String() string {
	switch k {
	case ThresholdsReceived:
		return "ThresholdsReceived"
	case MessageReceived:
		return "MessageReceived"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// New creates an empty dispatcher.
func New(opt ...Option) *Dispatcher {
	var opts Options
	for o := range options.Apply[Option](opt) {
		o.dispatcher(&opts)
	}

	return &Dispatcher{
		handlers: container.NewSyncMap[ID, entry](),
		log:      log.Wrap(opts.Logger),
	}
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

func (o withLogger) dispatcher(opt *Options) {
	opt.Logger = o.Logger
}

// Subscribe registers a handler for one kind of event and returns the id used
// to unsubscribe it.
func (d *Dispatcher) Subscribe(kind Kind, handler Handler) (ID, error) {
	s, err := errutil.NewID()
	if err != nil {
		return "", err
	}
	id := ID(s)
	d.handlers.Store(id, entry{id, kind, handler})
	return id, nil
}

// OnThresholds registers a handler for ThresholdsReceived. The handler reads
// the new values from the store.
func (d *Dispatcher) OnThresholds(
	handler func(context.Context),
) (ID, error) {
	return d.Subscribe(ThresholdsReceived, func(ctx context.Context, _ Event) {
		handler(ctx)
	})
}

// OnMessage registers a handler for MessageReceived.
func (d *Dispatcher) OnMessage(
	handler func(context.Context, string),
) (ID, error) {
	return d.Subscribe(MessageReceived, func(ctx context.Context, e Event) {
		handler(ctx, e.Message)
	})
}

// Unsubscribe removes a handler. Unknown ids are ignored.
func (d *Dispatcher) Unsubscribe(id ID) {
	d.handlers.LoadAndDelete(id)
}

// Len returns the number of registered handlers.
func (d *Dispatcher) Len() int {
	return d.handlers.Len()
}

// Fire invokes every handler registered for the event's kind at the time of
// the call. A panicking handler is logged and does not stop the others.
func (d *Dispatcher) Fire(ctx context.Context, e Event) {
	for _, h := range d.handlers.Values() {
		if h.kind == e.Kind {
			d.invoke(ctx, h, e)
		}
	}
}

func (d *Dispatcher) invoke(ctx context.Context, h entry, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Err(ctx, &errors.Error{
				Message: fmt.Sprintf("event handler panicked: %v", r),
				Kind:    errors.UnknownError,
			},
				slog.String("event", e.Kind.String()),
				slog.String("handler", string(h.id)),
			)
		}
	}()
	h.handler(ctx, e)
}
