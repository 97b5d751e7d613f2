// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package device manages the link to a pad controller: it owns the
// transport, decodes every inbound line and routes it into the store and the
// event dispatcher, and encodes outbound threshold commands.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/velopad/telemetry/errors"
	"github.com/velopad/telemetry/events"
	"github.com/velopad/telemetry/internal/errutil"
	"github.com/velopad/telemetry/internal/log"
	"github.com/velopad/telemetry/protocol"
	"github.com/velopad/telemetry/sensor"
	"github.com/velopad/telemetry/store"
	"github.com/velopad/telemetry/transport"
)

type (
	// State is the lifecycle state of a connection.
	State int

	// Connection is the single writer into a store. Connect opens the
	// transport and starts a read loop that feeds every line to HandleLine
	// until the link drops or Disconnect is called.
	Connection struct {
		provider transport.Provider
		store    *store.Store
		events   *events.Dispatcher
		log      log.Logger
		debug    bool

		mu     sync.Mutex
		state  State
		tr     transport.Transport
		cancel context.CancelFunc
		done   chan struct{}

		// Held around store writes from the read loop so Disconnect can
		// fence them.
		routing sync.Mutex
	}
)

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// New creates a disconnected connection.
func New(
	provider transport.Provider,
	st *store.Store,
	dispatcher *events.Dispatcher,
	opt ...Option,
) (*Connection, error) {
	if err := errutil.ValidateNonNil(map[string]any{
		"provider":   provider,
		"store":      st,
		"dispatcher": dispatcher,
	}); err != nil {
		return nil, err
	}

	var opts Options
	opts.Apply(opt)

	done := make(chan struct{})
	close(done)

	return &Connection{
		provider: provider,
		store:    st,
		events:   dispatcher,
		log:      log.Wrap(opts.Logger),
		debug:    opts.Debug,
		done:     done,
	}, nil
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done returns a channel that is closed when the current session ends. If
// there is no session it is already closed.
func (c *Connection) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Connect opens the transport and starts reading. It does nothing if the
// connection is already connecting or connected. onOpen, if not nil, is
// called once the link is up. The context bounds only the dial; the session
// lasts until Disconnect or a transport failure.
func (c *Connection) Connect(ctx context.Context, onOpen func()) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = Connecting
	c.mu.Unlock()

	tr, err := c.provider(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()

		err = errors.Normalize(err, "connect")
		c.log.Warn(ctx, err)
		return err
	}

	c.mu.Lock()
	if c.state != Connecting {
		// Disconnected while dialing.
		c.mu.Unlock()
		_ = tr.Close()
		return &errors.Error{
			Message: "connection closed while connecting",
			Kind:    errors.StateInvalid,
		}
	}
	session, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.state = Connected
	c.tr = tr
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.log.Info(ctx, "connected")
	go c.read(session, tr, done)

	if onOpen != nil {
		onOpen()
	}
	return nil
}

func (c *Connection) read(
	ctx context.Context,
	tr transport.Transport,
	done chan struct{},
) {
	defer close(done)

	for {
		line, err := tr.ReadLine(ctx)
		if err != nil {
			c.lost(ctx, tr, err)
			return
		}
		// Malformed lines are logged; keep reading.
		_ = c.route(ctx, ctx.Done(), line)
	}
}

// The read loop ended. If this transport is still the current one the link
// dropped on its own; otherwise Disconnect already cleaned up.
func (c *Connection) lost(
	ctx context.Context,
	tr transport.Transport,
	err error,
) {
	c.mu.Lock()
	if c.tr != tr {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.state = Disconnected
	c.tr = nil
	c.cancel = nil
	c.mu.Unlock()

	_ = tr.Close()
	c.log.Warn(ctx, err, slog.String("state", Disconnected.String()))
}

// HandleLine decodes one inbound line and routes it. Readings go to the store;
// thresholds go to the store and then notify ThresholdsReceived; messages
// notify MessageReceived; unknown tags are dropped. A malformed line is logged
// and returned, and changes nothing.
func (c *Connection) HandleLine(ctx context.Context, line string) error {
	return c.route(ctx, nil, line)
}

// Route one line. Once session is closed nothing more is written or fired;
// a nil session never closes.
func (c *Connection) route(
	ctx context.Context,
	session <-chan struct{},
	line string,
) error {
	frame, err := protocol.Decode(line)
	if err != nil {
		c.log.Warn(ctx, err)
		return err
	}

	if c.debug {
		c.log.Frame(ctx, slog.LevelInfo, "frame received", frame)
	}

	switch f := frame.(type) {
	case *protocol.ReadingFrame:
		c.write(session, func() error {
			c.store.Ingest(f.Reading)
			return nil
		})

	case *protocol.ThresholdFrame:
		ok, err := c.write(session, func() error {
			return c.store.ApplyThresholds(f.Thresholds)
		})
		if err != nil {
			c.log.Warn(ctx, err)
			return err
		}
		if ok {
			c.events.Fire(ctx, events.Event{Kind: events.ThresholdsReceived})
		}

	case *protocol.MessageFrame:
		if ended(session) {
			return nil
		}
		c.events.Fire(ctx, events.Event{
			Kind:    events.MessageReceived,
			Message: f.Text,
		})

	case *protocol.UnknownFrame:
		c.log.Debug(ctx, "unknown frame dropped",
			slog.String("tag", f.Tag),
			slog.String("body", f.Body),
		)
	}
	return nil
}

// Apply a store write unless the session has ended. Handlers are never run
// under the routing lock, so they may call Disconnect.
func (c *Connection) write(
	session <-chan struct{},
	apply func() error,
) (bool, error) {
	c.routing.Lock()
	defer c.routing.Unlock()

	if ended(session) {
		return false, nil
	}
	return true, apply()
}

func ended(session <-chan struct{}) bool {
	select {
	case <-session:
		return true
	default:
		return false
	}
}

// AskThresholds requests a full threshold report from the device. The reply
// arrives asynchronously as ThresholdsReceived.
func (c *Connection) AskThresholds(ctx context.Context) error {
	return c.send(ctx, &protocol.Command{Kind: protocol.AskThresholds})
}

// SendThresholdUpdate asks the device to apply new thresholds. The device
// confirms with an update that arrives as ThresholdsReceived.
func (c *Connection) SendThresholdUpdate(
	ctx context.Context,
	ts []sensor.Threshold,
) error {
	if len(ts) != sensor.NumChannels {
		return &errors.Error{
			Message: fmt.Sprintf(
				"expected %d thresholds, got %d",
				sensor.NumChannels,
				len(ts),
			),
			Kind:          errors.ArgumentInvalid,
			PropertyName:  "thresholds",
			PropertyValue: len(ts),
		}
	}
	return c.send(ctx, &protocol.Command{
		Kind:       protocol.SetThresholds,
		Thresholds: ts,
	})
}

func (c *Connection) send(ctx context.Context, cmd *protocol.Command) error {
	c.mu.Lock()
	tr, state := c.tr, c.state
	c.mu.Unlock()

	if state != Connected {
		return &errors.Error{
			Message:       fmt.Sprintf("cannot %s while %s", cmd.Kind, state),
			Kind:          errors.NotConnected,
			PropertyName:  "state",
			PropertyValue: state.String(),
		}
	}

	var line string
	switch cmd.Kind {
	case protocol.SetThresholds:
		line = protocol.EncodeThresholdUpdate(cmd.Thresholds)
	default:
		line = protocol.EncodeThresholdRequest()
	}

	if c.debug {
		c.log.Frame(ctx, slog.LevelInfo, "frame sent", cmd)
	}

	if err := tr.WriteLine(ctx, line); err != nil {
		err = errors.Normalize(err, "send")
		c.log.Warn(ctx, err)
		return err
	}
	return nil
}

// Disconnect closes the link and stops the read loop. Once it returns the
// loop makes no further store writes. It is safe to call at any time, any
// number of times, including from an event handler.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	if c.state == Disconnected {
		c.mu.Unlock()
		return nil
	}
	tr, cancel := c.tr, c.cancel
	c.state = Disconnected
	c.tr = nil
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		// Taken so a store write already in flight finishes first.
		c.routing.Lock()
		cancel()
		c.routing.Unlock()
	}

	if tr == nil {
		return nil
	}

	c.log.Info(context.Background(), "disconnected")
	if err := tr.Close(); err != nil {
		return errors.Normalize(err, "disconnect")
	}
	return nil
}
