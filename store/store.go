// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package store holds the per-channel telemetry history, the device time
// base, the current thresholds and the live subscription streams.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/velopad/telemetry/errors"
	"github.com/velopad/telemetry/internal/errutil"
	"github.com/velopad/telemetry/internal/log"
	"github.com/velopad/telemetry/internal/wallclock"
	"github.com/velopad/telemetry/sensor"
)

// Store is the central telemetry store. It is safe for concurrent use, though
// ingestion is expected to come from a single connection.
type Store struct {
	mu sync.RWMutex

	buffers    [sensor.NumChannels]*buffer
	thresholds [sensor.NumChannels]sensor.Threshold
	streams    [sensor.NumChannels]map[string]*stream

	offset    int64
	hasOffset bool

	compaction int
	log        log.Logger
}

// New creates an empty store.
func New(opt ...Option) *Store {
	var opts Options
	opts.Apply(opt)

	if opts.CompactionThreshold <= 0 {
		opts.CompactionThreshold = DefaultCompactionThreshold
	}

	s := &Store{
		compaction: opts.CompactionThreshold,
		log:        log.Wrap(opts.Logger),
	}
	for ch := range s.buffers {
		s.buffers[ch] = &buffer{retention: max(opts.Retention, 0)}
		s.thresholds[ch] = sensor.UnknownThreshold()
		s.streams[ch] = map[string]*stream{}
	}
	return s
}

// Ingest records one reading. The first reading fixes the offset between the
// device clock and the wall clock; every reading is then appended to each
// channel history in the device domain and to each live subscription in the
// wall-clock domain.
func (s *Store) Ingest(r sensor.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasOffset {
		s.offset = wallclock.NowMillis() - r.Timestamp
		s.hasOffset = true
		s.log.Debug(context.Background(), "time base fixed",
			slog.Int64("offset", s.offset),
			slog.Int64("tick", r.Timestamp),
		)
	}

	for _, ch := range sensor.Channels() {
		sample := r.Sample(ch)
		s.buffers[ch].append(sample)

		if len(s.streams[ch]) == 0 {
			continue
		}
		live := sample
		live.Timestamp += s.offset
		for _, st := range s.streams[ch] {
			st.append(live)
		}
	}
}

// TimeBase returns the device-to-wall-clock offset in milliseconds and whether
// it has been fixed yet.
func (s *Store) TimeBase() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset, s.hasOffset
}

// DeviceTime converts a wall-clock instant to the device time base. It fails
// until the first reading has fixed the base.
func (s *Store) DeviceTime(t time.Time) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasOffset {
		return 0, false
	}
	return t.UnixMilli() - s.offset, true
}

// ApplyThresholds replaces every channel's thresholds with the given values.
func (s *Store) ApplyThresholds(ts []sensor.Threshold) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range ts {
		s.thresholds[i] = t.Clone()
	}
	return nil
}

// Threshold returns a copy of one channel's current thresholds.
func (s *Store) Threshold(ch sensor.Channel) (sensor.Threshold, error) {
	if err := validateChannel(ch); err != nil {
		return sensor.Threshold{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.thresholds[ch].Clone(), nil
}

// Thresholds returns copies of every channel's thresholds, index-aligned with
// the channel numbering.
func (s *Store) Thresholds() []sensor.Threshold {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts := make([]sensor.Threshold, 0, sensor.NumChannels)
	for _, t := range s.thresholds {
		ts = append(ts, t.Clone())
	}
	return ts
}

// Query returns a copy of a channel's history in the device timestamp domain.
// Without bounds the whole history is returned. WithStart and WithEnd must be
// supplied together and select the inclusive range [start, end].
func (s *Store) Query(
	ch sensor.Channel,
	opt ...QueryOption,
) ([]sensor.Sample, error) {
	if err := validateChannel(ch); err != nil {
		return nil, err
	}

	var opts QueryOptions
	opts.Apply(opt)

	if (opts.Start == nil) != (opts.End == nil) {
		return nil, &errors.Error{
			Message: "start and end must be supplied together",
			Kind:    errors.ArgumentInvalid,
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if opts.Start == nil {
		return s.buffers[ch].all(), nil
	}

	start, end := *opts.Start, *opts.End
	if end < start {
		return nil, &errors.Error{
			Message:       fmt.Sprintf("range end %d precedes start %d", end, start),
			Kind:          errors.ArgumentInvalid,
			PropertyName:  "end",
			PropertyValue: end,
		}
	}
	return s.buffers[ch].between(start, end)
}

// Len returns the number of samples retained for a channel.
func (s *Store) Len(ch sensor.Channel) int {
	if !ch.Valid() {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buffers[ch].samples)
}

// Subscribe opens a new live stream on a channel. The stream starts empty and
// receives every sample ingested from now on, until unsubscribed.
func (s *Store) Subscribe(ch sensor.Channel) (*Subscription, error) {
	if err := validateChannel(ch); err != nil {
		return nil, err
	}

	id, err := errutil.NewID()
	if err != nil {
		return nil, err
	}

	st := newStream(s.compaction)

	s.mu.Lock()
	s.streams[ch][id] = st
	s.mu.Unlock()

	s.log.Debug(context.Background(), "subscribed",
		slog.String("channel", ch.String()),
		slog.String("subscription", id),
	)
	return &Subscription{id: id, channel: ch, stream: st}, nil
}

// Unsubscribe stops and discards a subscription stream. Unsubscribing twice is
// a no-op.
func (s *Store) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	s.mu.Lock()
	st, ok := s.streams[sub.channel][sub.id]
	delete(s.streams[sub.channel], sub.id)
	s.mu.Unlock()

	if !ok {
		return
	}
	st.close()
	s.log.Debug(context.Background(), "unsubscribed",
		slog.String("channel", sub.channel.String()),
		slog.String("subscription", sub.id),
	)
}

// Subscriptions returns the number of live subscriptions on a channel.
func (s *Store) Subscriptions(ch sensor.Channel) int {
	if !ch.Valid() {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams[ch])
}

func validateChannel(ch sensor.Channel) error {
	if !ch.Valid() {
		return &errors.Error{
			Message:       "invalid channel",
			Kind:          errors.ArgumentInvalid,
			PropertyName:  "channel",
			PropertyValue: int(ch),
		}
	}
	return nil
}
