// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package transport

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/velopad/telemetry/errors"
	"github.com/velopad/telemetry/internal/log"
	"github.com/velopad/telemetry/internal/wallclock"
	"github.com/velopad/telemetry/protocol"
	"github.com/velopad/telemetry/sensor"
)

// MockDevice simulates a pad controller. It replays a canned cycle of
// pressure values at a fixed tick, derives pressed state from its thresholds
// with hysteresis, and answers threshold commands the way the firmware does.
type MockDevice struct {
	lines chan string
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup

	mu         sync.Mutex
	replies    []string
	thresholds []sensor.Threshold
	pressed    [sensor.NumChannels]bool
	step       int
	tick       time.Duration
	log        log.Logger
}

// Idle pressure hovers around 600; every channel gets stepped on once per
// cycle.
var mockCycle = [][sensor.NumChannels]int{
	{600, 600, 600, 600},
	{602, 601, 599, 598},
	{602, 601, 599, 598},
	{606, 600, 590, 600},
	{602, 601, 599, 598},
	{600, 600, 600, 600},
	{660, 601, 600, 599},
	{702, 600, 601, 600},
	{655, 640, 600, 600},
	{610, 710, 600, 601},
	{601, 650, 645, 600},
	{600, 605, 720, 600},
	{600, 600, 640, 650},
	{599, 600, 604, 715},
	{600, 601, 600, 630},
	{600, 600, 600, 602},
}

// DefaultMockThresholds are the simulated device's power-on thresholds.
func DefaultMockThresholds() []sensor.Threshold {
	ts := make([]sensor.Threshold, sensor.NumChannels)
	for i := range ts {
		ts[i] = sensor.Threshold{Press: 640, Release: 620}
	}
	return ts
}

// Mock returns a provider that starts a fresh simulated device per dial.
func Mock(opt ...Option) Provider {
	return func(context.Context) (Transport, error) {
		return NewMockDevice(opt...), nil
	}
}

// NewMockDevice starts a simulated device. It runs until closed.
func NewMockDevice(opt ...Option) *MockDevice {
	var opts Options
	opts.Apply(opt)

	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	ts := DefaultMockThresholds()
	if len(opts.Thresholds) == sensor.NumChannels {
		copy(ts, opts.Thresholds)
	}

	m := &MockDevice{
		lines:      make(chan string, 64),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		thresholds: ts,
		tick:       opts.Tick,
		log:        log.Wrap(opts.Logger),
	}

	m.wg.Add(1)
	go m.run()
	return m
}

func (m *MockDevice) run() {
	defer m.wg.Done()

	ticker := wallclock.Instance.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
			for _, reply := range m.pending() {
				m.send(reply)
			}
		case <-ticker.C():
			m.send(protocol.EncodeReading(m.next()))
		}
	}
}

// Take the queued command replies, oldest first.
func (m *MockDevice) pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	replies := m.replies
	m.replies = nil
	return replies
}

// Queue a reply for the run loop. Replies go out in command order and the
// caller, which may also be the only reader, never blocks.
func (m *MockDevice) reply(line string) {
	m.mu.Lock()
	m.replies = append(m.replies, line)
	m.mu.Unlock()
	m.signal()
}

func (m *MockDevice) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Produce the next reading in the cycle. The tick is the elapsed device time
// in milliseconds.
func (m *MockDevice) next() *sensor.Reading {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := &sensor.Reading{
		Timestamp: int64(m.step) * m.tick.Milliseconds(),
		Values:    mockCycle[m.step%len(mockCycle)],
	}
	for ch, v := range r.Values {
		t := m.thresholds[ch]
		switch {
		case !m.pressed[ch] && v >= t.Press:
			m.pressed[ch] = true
		case m.pressed[ch] && v <= t.Release:
			m.pressed[ch] = false
		}
	}
	r.Pressed = m.pressed
	m.step++
	return r
}

func (m *MockDevice) send(line string) {
	select {
	case m.lines <- strings.TrimRight(line, "\n"):
	case <-m.done:
	}
}

// ReadLine returns the next line the device emits.
func (m *MockDevice) ReadLine(ctx context.Context) (string, error) {
	select {
	case line := <-m.lines:
		return line, nil
	case <-m.done:
		return "", errors.Normalize(io.EOF, "read")
	case <-ctx.Done():
		return "", errors.Normalize(ctx.Err(), "read")
	}
}

// WriteLine accepts one host command. `sg` is answered with a threshold
// report and `su` with a threshold update; anything else is answered with a
// diagnostic message.
func (m *MockDevice) WriteLine(ctx context.Context, line string) error {
	select {
	case <-m.done:
		return &errors.Error{
			Message: "mock device closed",
			Kind:    errors.TransportError,
		}
	default:
	}

	cmd, err := protocol.DecodeCommand(line)
	if err != nil {
		m.log.Warn(ctx, err)
		m.reply(protocol.EncodeMessage("unknown command"))
		return nil
	}

	m.mu.Lock()
	if cmd.Kind == protocol.SetThresholds {
		copy(m.thresholds, cmd.Thresholds)
		m.log.Debug(ctx, "mock thresholds set",
			slog.String("thresholds", sensor.FormatThresholds(m.thresholds)),
		)
	}
	// Queued under the lock that orders threshold changes.
	m.replies = append(m.replies, protocol.EncodeThresholds(
		cmd.Kind == protocol.SetThresholds,
		m.thresholds,
	))
	m.mu.Unlock()
	m.signal()
	return nil
}

// Thresholds returns a copy of the device's current thresholds.
func (m *MockDevice) Thresholds() []sensor.Threshold {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sensor.Threshold(nil), m.thresholds...)
}

// Close stops the device. Pending lines are discarded.
func (m *MockDevice) Close() error {
	m.once.Do(func() { close(m.done) })
	m.wg.Wait()
	return nil
}
