// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package device_test

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/velopad/telemetry/device"
	"github.com/velopad/telemetry/errors"
	"github.com/velopad/telemetry/events"
	"github.com/velopad/telemetry/sensor"
	"github.com/velopad/telemetry/store"
	"github.com/velopad/telemetry/transport"
)

type pipe struct {
	in     chan string
	out    chan string
	closed chan struct{}
	once   sync.Once
}

func newPipe() *pipe {
	return &pipe{
		in:     make(chan string, 16),
		out:    make(chan string, 16),
		closed: make(chan struct{}),
	}
}

func (p *pipe) ReadLine(ctx context.Context) (string, error) {
	select {
	case line := <-p.in:
		return line, nil
	case <-p.closed:
		return "", io.EOF
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *pipe) WriteLine(_ context.Context, line string) error {
	select {
	case <-p.closed:
		return io.ErrClosedPipe
	case p.out <- line:
		return nil
	}
}

func (p *pipe) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipe) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

type fixture struct {
	conn   *device.Connection
	store  *store.Store
	events *events.Dispatcher
	pipe   *pipe
	dials  *atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		store:  store.New(),
		events: events.New(),
		pipe:   newPipe(),
		dials:  &atomic.Int32{},
	}

	var err error
	f.conn, err = device.New(
		func(context.Context) (transport.Transport, error) {
			f.dials.Add(1)
			return f.pipe, nil
		},
		f.store,
		f.events,
		device.WithDebug(true),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.conn.Disconnect() })
	return f
}

func waitDone(t *testing.T, conn *device.Connection) {
	select {
	case <-conn.Done():
	case <-time.After(5 * time.Second):
		require.FailNow(t, "session did not end")
	}
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := device.New(nil, store.New(), events.New())
	require.True(t, errors.IsKind(err, errors.ArgumentInvalid))

	_, err = device.New(transport.Mock(), nil, events.New())
	require.True(t, errors.IsKind(err, errors.ArgumentInvalid))
}

func TestConnectOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.Equal(t, device.Disconnected, f.conn.State())

	var opened int
	require.NoError(t, f.conn.Connect(ctx, func() { opened++ }))
	require.Equal(t, device.Connected, f.conn.State())

	require.NoError(t, f.conn.Connect(ctx, func() { opened++ }))
	require.Equal(t, 1, opened)
	require.Equal(t, int32(1), f.dials.Load())
}

func TestConnectFailure(t *testing.T) {
	conn, err := device.New(
		func(context.Context) (transport.Transport, error) {
			return nil, io.ErrUnexpectedEOF
		},
		store.New(),
		events.New(),
	)
	require.NoError(t, err)

	var opened bool
	err = conn.Connect(context.Background(), func() { opened = true })
	require.Error(t, err)
	require.False(t, opened)
	require.Equal(t, device.Disconnected, conn.State())
}

func TestReadLoopRoutesLines(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sub, err := f.store.Subscribe(sensor.Up)
	require.NoError(t, err)

	thresholds := make(chan struct{}, 1)
	f.events.OnThresholds(func(context.Context) { thresholds <- struct{}{} })

	require.NoError(t, f.conn.Connect(ctx, nil))
	f.pipe.in <- "SD 0 1,F 2,F 3,F 4,F"
	f.pipe.in <- "SD 50 5,F 6,F 7,T 8,F"
	f.pipe.in <- "ST 10,5 20,15 30,25 40,35"

	select {
	case <-thresholds:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "thresholds not received")
	}

	// Lines are handled in order, so the readings are already stored.
	samples, err := sub.Drain()
	require.NoError(t, err)
	require.Len(t, samples, 2)
	require.Equal(t, 3, samples[0].Value)
	require.Equal(t, 7, samples[1].Value)
	require.True(t, samples[1].Pressed)

	th, err := f.store.Threshold(sensor.Right)
	require.NoError(t, err)
	require.Equal(t, sensor.Threshold{Press: 40, Release: 35}, th)
}

func TestHandleLineMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var got string
	f.events.OnMessage(func(_ context.Context, msg string) { got = msg })

	require.NoError(t, f.conn.HandleLine(ctx, "M: calibrating now"))
	require.Equal(t, "calibrating now", got)
}

func TestHandleLineThresholdUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var fired int
	f.events.OnThresholds(func(context.Context) { fired++ })

	require.NoError(t, f.conn.HandleLine(ctx, "SU 1,2 3,4 5,6 7,8\r\n"))
	require.Equal(t, 1, fired)
	require.Equal(t, []sensor.Threshold{
		{Press: 1, Release: 2},
		{Press: 3, Release: 4},
		{Press: 5, Release: 6},
		{Press: 7, Release: 8},
	}, f.store.Thresholds())
}

func TestHandleLineMalformed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var fired int
	f.events.OnThresholds(func(context.Context) { fired++ })

	err := f.conn.HandleLine(ctx, "SD 10 5,X 5,F 5,F 5,F")
	require.True(t, errors.IsKind(err, errors.MalformedFrame))

	err = f.conn.HandleLine(ctx, "ST 10,5 20")
	require.True(t, errors.IsKind(err, errors.MalformedFrame))

	for _, ch := range sensor.Channels() {
		require.Zero(t, f.store.Len(ch))
	}
	_, ok := f.store.TimeBase()
	require.False(t, ok)
	require.Equal(t, sensor.UnknownThreshold(), f.store.Thresholds()[0])
	require.Zero(t, fired)
}

func TestHandleLineUnknown(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.conn.HandleLine(context.Background(), "XX whatever"))
	require.NoError(t, f.conn.HandleLine(context.Background(), ""))
}

func TestCommandsRequireConnection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.conn.AskThresholds(ctx)
	require.True(t, errors.IsKind(err, errors.NotConnected))

	err = f.conn.SendThresholdUpdate(ctx, f.store.Thresholds())
	require.True(t, errors.IsKind(err, errors.NotConnected))
}

func TestCommands(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.conn.Connect(ctx, nil))

	require.NoError(t, f.conn.AskThresholds(ctx))
	require.Equal(t, "sg\n", <-f.pipe.out)

	require.NoError(t, f.conn.SendThresholdUpdate(ctx, []sensor.Threshold{
		{Press: 1, Release: 2},
		{Press: 3, Release: 4},
		{Press: 5, Release: 6},
		{Press: 7, Release: 8},
	}))
	require.Equal(t, "su 1,2 3,4 5,6 7,8\n", <-f.pipe.out)

	err := f.conn.SendThresholdUpdate(ctx, []sensor.Threshold{{}})
	require.True(t, errors.IsKind(err, errors.ArgumentInvalid))
}

func TestDisconnect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.conn.Disconnect())

	require.NoError(t, f.conn.Connect(ctx, nil))
	require.NoError(t, f.conn.Disconnect())
	require.NoError(t, f.conn.Disconnect())
	require.Equal(t, device.Disconnected, f.conn.State())
	require.True(t, f.pipe.isClosed())
	waitDone(t, f.conn)

	err := f.conn.AskThresholds(ctx)
	require.True(t, errors.IsKind(err, errors.NotConnected))
}

func TestDisconnectFromCallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.events.OnMessage(func(context.Context, string) {
		_ = f.conn.Disconnect()
	})

	require.NoError(t, f.conn.Connect(ctx, nil))
	f.pipe.in <- "M: bye"
	waitDone(t, f.conn)
	require.Equal(t, device.Disconnected, f.conn.State())
}

func TestTransportLost(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.conn.Connect(ctx, nil))
	require.NoError(t, f.pipe.Close())

	waitDone(t, f.conn)
	require.Equal(t, device.Disconnected, f.conn.State())

	err := f.conn.AskThresholds(ctx)
	require.True(t, errors.IsKind(err, errors.NotConnected))
}

func TestMockDeviceRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st := store.New()
	d := events.New()
	conn, err := device.New(
		transport.Mock(transport.WithTick(time.Millisecond)),
		st,
		d,
	)
	require.NoError(t, err)
	defer conn.Disconnect()

	received := make(chan struct{}, 4)
	d.OnThresholds(func(context.Context) { received <- struct{}{} })

	require.NoError(t, conn.Connect(ctx, func() {
		require.NoError(t, conn.AskThresholds(ctx))
	}))

	select {
	case <-received:
	case <-ctx.Done():
		require.FailNow(t, "no threshold report")
	}
	require.Equal(t, transport.DefaultMockThresholds(), st.Thresholds())

	update := []sensor.Threshold{
		{Press: 700, Release: 690},
		{Press: 701, Release: 691},
		{Press: 702, Release: 692},
		{Press: 703, Release: 693},
	}
	require.NoError(t, conn.SendThresholdUpdate(ctx, update))
	select {
	case <-received:
	case <-ctx.Done():
		require.FailNow(t, "no threshold update")
	}
	require.Equal(t, update, st.Thresholds())

	require.Eventually(t, func() bool {
		return st.Len(sensor.Left) > 0
	}, 5*time.Second, time.Millisecond)
}

// Transport whose first read hands back a line only after it is released,
// whatever the context says.
type lateLine struct {
	reading chan struct{}
	release chan string
}

func (l *lateLine) ReadLine(ctx context.Context) (string, error) {
	select {
	case l.reading <- struct{}{}:
	default:
	}
	if line, ok := <-l.release; ok {
		return line, nil
	}
	<-ctx.Done()
	return "", ctx.Err()
}

func (*lateLine) WriteLine(context.Context, string) error { return nil }

func (*lateLine) Close() error { return nil }

func TestNoIngestAfterDisconnect(t *testing.T) {
	ctx := context.Background()
	st := store.New()
	d := events.New()
	tr := &lateLine{
		reading: make(chan struct{}, 1),
		release: make(chan string),
	}

	conn, err := device.New(
		func(context.Context) (transport.Transport, error) { return tr, nil },
		st,
		d,
	)
	require.NoError(t, err)

	fired := make(chan struct{}, 4)
	d.OnThresholds(func(context.Context) { fired <- struct{}{} })
	d.OnMessage(func(context.Context, string) { fired <- struct{}{} })

	require.NoError(t, conn.Connect(ctx, nil))
	<-tr.reading
	require.NoError(t, conn.Disconnect())

	tr.release <- "SD 0 1,F 2,F 3,F 4,F"
	tr.release <- "ST 10,5 20,15 30,25 40,35"
	tr.release <- "M: late"
	close(tr.release)
	waitDone(t, conn)

	for _, ch := range sensor.Channels() {
		require.Zero(t, st.Len(ch))
	}
	_, ok := st.TimeBase()
	require.False(t, ok)
	require.Empty(t, fired)
}

func TestMockDeviceAskThenUpdate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st := store.New()
	d := events.New()
	conn, err := device.New(
		transport.Mock(transport.WithTick(time.Millisecond)),
		st,
		d,
	)
	require.NoError(t, err)
	defer conn.Disconnect()

	received := make(chan struct{}, 4)
	d.OnThresholds(func(context.Context) { received <- struct{}{} })

	update := []sensor.Threshold{
		{Press: 700, Release: 690},
		{Press: 700, Release: 690},
		{Press: 700, Release: 690},
		{Press: 700, Release: 690},
	}
	require.NoError(t, conn.Connect(ctx, nil))
	require.NoError(t, conn.AskThresholds(ctx))
	require.NoError(t, conn.SendThresholdUpdate(ctx, update))

	for range 2 {
		select {
		case <-received:
		case <-ctx.Done():
			require.FailNow(t, "missing threshold reply")
		}
	}
	require.Equal(t, update, st.Thresholds())
}
