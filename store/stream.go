// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package store

import (
	"github.com/velopad/telemetry/errors"
	"github.com/velopad/telemetry/sensor"
)

type (
	// Subscription is a consumer's private view of one channel's live stream.
	// Samples carry wall-clock timestamps. Each subscription owns its buffer
	// and read cursor, so draining one never affects another.
	Subscription struct {
		id      string
		channel sensor.Channel
		stream  *stream
	}
)

// ID returns the unique subscription id.
func (s *Subscription) ID() string {
	return s.id
}

// Channel returns the channel this subscription follows.
func (s *Subscription) Channel() sensor.Channel {
	return s.channel
}

// Drain returns every sample appended since the previous call, in append
// order. It never blocks; an idle stream yields an empty slice. Draining an
// unsubscribed stream fails with a StateInvalid error.
func (s *Subscription) Drain() ([]sensor.Sample, error) {
	samples, ok := s.stream.drain()
	if !ok {
		return nil, &errors.Error{
			Message:       "subscription is closed",
			Kind:          errors.StateInvalid,
			PropertyName:  "subscription",
			PropertyValue: s.id,
		}
	}
	return samples, nil
}
