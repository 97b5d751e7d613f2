// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/velopad/telemetry/errors"
	"github.com/velopad/telemetry/internal/wallclock"
	"github.com/velopad/telemetry/sensor"
	"github.com/velopad/telemetry/store"
)

type (
	fixedClock struct{ now time.Time }

	realTicker struct{ *time.Ticker }
)

func (c *fixedClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (c *fixedClock) NewTicker(d time.Duration) wallclock.Ticker {
	return realTicker{time.NewTicker(d)}
}

func (t realTicker) C() <-chan time.Time {
	return t.Ticker.C
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

func useClock(t *testing.T, now time.Time) *fixedClock {
	prev := wallclock.Instance
	clock := &fixedClock{now}
	wallclock.Instance = clock
	t.Cleanup(func() { wallclock.Instance = prev })
	return clock
}

func reading(tick int64, value int) sensor.Reading {
	r := sensor.Reading{Timestamp: tick}
	for ch := range r.Values {
		r.Values[ch] = value + ch*1000
		r.Pressed[ch] = value%2 == 1
	}
	return r
}

// Ingest ten readings 50ms apart with values 0..9.
func ingestSeries(s *store.Store) {
	for i := range 10 {
		s.Ingest(reading(int64(i*50), i))
	}
}

func TestIngestOrdering(t *testing.T) {
	s := store.New()
	ingestSeries(s)

	for _, ch := range sensor.Channels() {
		samples, err := s.Query(ch)
		require.NoError(t, err)
		require.Len(t, samples, 10)
		require.Equal(t, 10, s.Len(ch))

		for i, sample := range samples {
			require.Equal(t, int64(i*50), sample.Timestamp)
			require.Equal(t, i+int(ch)*1000, sample.Value)
			require.Equal(t, i%2 == 1, sample.Pressed)
		}
	}
}

func TestTimeBaseFixedOnce(t *testing.T) {
	clock := useClock(t, time.UnixMilli(1_000_000))
	s := store.New()

	_, ok := s.TimeBase()
	require.False(t, ok)

	sub, err := s.Subscribe(sensor.Up)
	require.NoError(t, err)

	s.Ingest(reading(400, 1))
	offset, ok := s.TimeBase()
	require.True(t, ok)
	require.Equal(t, int64(1_000_000-400), offset)

	// Later readings reuse the same offset regardless of the wall clock.
	clock.now = time.UnixMilli(5_000_000)
	s.Ingest(reading(450, 2))
	s.Ingest(reading(500, 3))

	offset2, ok := s.TimeBase()
	require.True(t, ok)
	require.Equal(t, offset, offset2)

	// A device restart starts the tick over; the base stays put.
	s.Ingest(reading(10, 4))
	offset3, ok := s.TimeBase()
	require.True(t, ok)
	require.Equal(t, offset, offset3)

	ticks := []int64{400, 450, 500, 10}
	samples, err := sub.Drain()
	require.NoError(t, err)
	require.Len(t, samples, len(ticks))
	for i, tick := range ticks {
		require.Equal(t, tick+offset, samples[i].Timestamp)
	}

	history, err := s.Query(sensor.Up)
	require.NoError(t, err)
	require.Len(t, history, len(ticks))
	for i, tick := range ticks {
		require.Equal(t, tick, history[i].Timestamp)
		require.Equal(t, i+1+int(sensor.Up)*1000, history[i].Value)
	}
}

func TestDeviceTime(t *testing.T) {
	useClock(t, time.UnixMilli(1_000_000))
	s := store.New()

	_, ok := s.DeviceTime(time.UnixMilli(1_000_000))
	require.False(t, ok)

	s.Ingest(reading(400, 1))
	tick, ok := s.DeviceTime(time.UnixMilli(1_000_100))
	require.True(t, ok)
	require.Equal(t, int64(500), tick)
}

func TestQueryRange(t *testing.T) {
	s := store.New()
	ingestSeries(s)

	samples, err := s.Query(sensor.Left, store.WithStart(100), store.WithEnd(250))
	require.NoError(t, err)
	require.Equal(t, []sensor.Sample{
		{Timestamp: 100, Value: 2, Pressed: false},
		{Timestamp: 150, Value: 3, Pressed: true},
		{Timestamp: 200, Value: 4, Pressed: false},
		{Timestamp: 250, Value: 5, Pressed: true},
	}, samples)
}

func TestQueryRangeStartsAtFirstSample(t *testing.T) {
	s := store.New()
	ingestSeries(s)

	samples, err := s.Query(sensor.Left, store.WithStart(0), store.WithEnd(0))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	require.Equal(t, int64(0), samples[0].Timestamp)
}

func TestQueryRangeTruncates(t *testing.T) {
	s := store.New()
	ingestSeries(s)

	samples, err := s.Query(sensor.Right, store.WithStart(420), store.WithEnd(10_000))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	require.Equal(t, int64(450), samples[0].Timestamp)
}

func TestQueryRangeBetweenSamples(t *testing.T) {
	s := store.New()
	ingestSeries(s)

	samples, err := s.Query(sensor.Down, store.WithStart(101), store.WithEnd(149))
	require.NoError(t, err)
	require.Empty(t, samples)
}

func TestQueryRangeOutOfBounds(t *testing.T) {
	s := store.New()
	ingestSeries(s)

	_, err := s.Query(sensor.Left, store.WithStart(451), store.WithEnd(500))
	require.True(t, errors.IsKind(err, errors.RangeOutOfBounds))

	_, err = store.New().Query(sensor.Left, store.WithStart(0), store.WithEnd(0))
	require.True(t, errors.IsKind(err, errors.RangeOutOfBounds))
}

func TestQueryInvalidArguments(t *testing.T) {
	s := store.New()
	ingestSeries(s)

	_, err := s.Query(sensor.Left, store.WithStart(100))
	require.True(t, errors.IsKind(err, errors.ArgumentInvalid))

	_, err = s.Query(sensor.Left, store.WithEnd(100))
	require.True(t, errors.IsKind(err, errors.ArgumentInvalid))

	_, err = s.Query(sensor.Left, store.WithStart(200), store.WithEnd(100))
	require.True(t, errors.IsKind(err, errors.ArgumentInvalid))

	_, err = s.Query(sensor.Channel(7))
	require.True(t, errors.IsKind(err, errors.ArgumentInvalid))
}

func TestQueryReturnsCopy(t *testing.T) {
	s := store.New()
	ingestSeries(s)

	samples, err := s.Query(sensor.Left)
	require.NoError(t, err)
	samples[0].Value = 99

	again, err := s.Query(sensor.Left)
	require.NoError(t, err)
	require.Equal(t, 0, again[0].Value)
}

func TestRetention(t *testing.T) {
	s := store.New(store.WithRetention(4))
	ingestSeries(s)

	samples, err := s.Query(sensor.Left)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(samples), 4)
	require.LessOrEqual(t, len(samples), 6)

	// Newest samples survive, still in order.
	last := samples[len(samples)-1]
	require.Equal(t, int64(450), last.Timestamp)
	for i := 1; i < len(samples); i++ {
		require.Less(t, samples[i-1].Timestamp, samples[i].Timestamp)
	}
}

func TestThresholdsDefaultUnknown(t *testing.T) {
	s := store.New()

	for _, ch := range sensor.Channels() {
		th, err := s.Threshold(ch)
		require.NoError(t, err)
		require.Equal(t, sensor.UnknownThreshold(), th)
		require.False(t, th.Known())
	}

	_, err := s.Threshold(sensor.Channel(-1))
	require.True(t, errors.IsKind(err, errors.ArgumentInvalid))
}

func TestThresholdCloneIsolation(t *testing.T) {
	s := store.New()

	ts := []sensor.Threshold{
		{Press: 10, Release: 5},
		{Press: 20, Release: 15},
		{Press: 30, Release: 25},
		{Press: 40, Release: 35},
	}
	require.NoError(t, s.ApplyThresholds(ts))

	// Mutating the caller's slice does not reach the store.
	ts[0].Press = 999

	got, err := s.Threshold(sensor.Left)
	require.NoError(t, err)
	require.Equal(t, sensor.Threshold{Press: 10, Release: 5}, got)

	// Mutating a returned copy does not reach the store either.
	all := s.Thresholds()
	all[1].Release = -7
	got, err = s.Threshold(sensor.Down)
	require.NoError(t, err)
	require.Equal(t, sensor.Threshold{Press: 20, Release: 15}, got)
}

func TestApplyThresholdsWrongLength(t *testing.T) {
	s := store.New()

	err := s.ApplyThresholds([]sensor.Threshold{{Press: 1, Release: 1}})
	require.True(t, errors.IsKind(err, errors.ArgumentInvalid))
	require.Equal(t, sensor.UnknownThreshold(), s.Thresholds()[0])
}
