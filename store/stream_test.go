// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package store_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/velopad/telemetry/errors"
	"github.com/velopad/telemetry/sensor"
	"github.com/velopad/telemetry/store"
)

func TestSubscriberIsolation(t *testing.T) {
	useClock(t, time.UnixMilli(10_000))
	s := store.New()

	a, err := s.Subscribe(sensor.Left)
	require.NoError(t, err)
	b, err := s.Subscribe(sensor.Left)
	require.NoError(t, err)
	require.NotEqual(t, a.ID(), b.ID())
	require.Equal(t, 2, s.Subscriptions(sensor.Left))

	s.Ingest(reading(0, 1))
	s.Ingest(reading(50, 2))

	drainedA, err := a.Drain()
	require.NoError(t, err)
	require.Len(t, drainedA, 2)

	s.Ingest(reading(100, 3))

	drainedB, err := b.Drain()
	require.NoError(t, err)
	require.Len(t, drainedB, 3)
	require.Equal(t, drainedA, drainedB[:2])

	drainedA, err = a.Drain()
	require.NoError(t, err)
	require.Len(t, drainedA, 1)
	require.Equal(t, 3, drainedA[0].Value)
}

func TestSubscriptionStartsEmpty(t *testing.T) {
	s := store.New()
	ingestSeries(s)

	sub, err := s.Subscribe(sensor.Down)
	require.NoError(t, err)
	require.Equal(t, sensor.Down, sub.Channel())

	samples, err := sub.Drain()
	require.NoError(t, err)
	require.NotNil(t, samples)
	require.Empty(t, samples)
}

func TestDrainExhaustion(t *testing.T) {
	s := store.New()
	sub, err := s.Subscribe(sensor.Right)
	require.NoError(t, err)

	ingestSeries(s)

	samples, err := sub.Drain()
	require.NoError(t, err)
	require.Len(t, samples, 10)

	samples, err = sub.Drain()
	require.NoError(t, err)
	require.NotNil(t, samples)
	require.Empty(t, samples)
}

func TestSubscriptionOnlySeesItsChannel(t *testing.T) {
	s := store.New()
	sub, err := s.Subscribe(sensor.Up)
	require.NoError(t, err)

	s.Ingest(reading(0, 4))

	samples, err := sub.Drain()
	require.NoError(t, err)
	require.Len(t, samples, 1)
	require.Equal(t, 4+int(sensor.Up)*1000, samples[0].Value)
}

func TestUnsubscribe(t *testing.T) {
	s := store.New()
	sub, err := s.Subscribe(sensor.Left)
	require.NoError(t, err)

	s.Ingest(reading(0, 1))
	s.Unsubscribe(sub)
	s.Unsubscribe(sub)
	require.Equal(t, 0, s.Subscriptions(sensor.Left))

	s.Ingest(reading(50, 2))

	_, err = sub.Drain()
	require.True(t, errors.IsKind(err, errors.StateInvalid))
}

func TestSubscribeInvalidChannel(t *testing.T) {
	_, err := store.New().Subscribe(sensor.Channel(4))
	require.True(t, errors.IsKind(err, errors.ArgumentInvalid))
}

func TestCompactionTransparency(t *testing.T) {
	useClock(t, time.UnixMilli(0))
	compacted := store.New(store.WithCompactionThreshold(3))
	plain := store.New()

	subC, err := compacted.Subscribe(sensor.Left)
	require.NoError(t, err)
	subP, err := plain.Subscribe(sensor.Left)
	require.NoError(t, err)

	var gotC, gotP []sensor.Sample
	tick := int64(0)
	for round := range 6 {
		// Uneven batches exercise drains on both sides of the threshold.
		for range round + 1 {
			r := reading(tick, int(tick/10))
			compacted.Ingest(r)
			plain.Ingest(r)
			tick += 10
		}

		c, err := subC.Drain()
		require.NoError(t, err)
		p, err := subP.Drain()
		require.NoError(t, err)
		require.Equal(t, p, c)

		gotC = append(gotC, c...)
		gotP = append(gotP, p...)
	}

	require.Equal(t, gotP, gotC)
	require.Len(t, gotC, 21)
	require.Zero(t, store.Retained(subC))
	require.Equal(t, 21, store.Retained(subP))
}

func TestConcurrentIngestAndDrain(t *testing.T) {
	s := store.New(store.WithCompactionThreshold(16))
	sub, err := s.Subscribe(sensor.Left)
	require.NoError(t, err)

	const total = 500
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range total {
			s.Ingest(reading(int64(i), i))
		}
	}()

	var got []sensor.Sample
	for len(got) < total {
		samples, err := sub.Drain()
		require.NoError(t, err)
		got = append(got, samples...)
	}
	wg.Wait()

	for i, sample := range got {
		require.Equal(t, i, sample.Value)
	}
}
