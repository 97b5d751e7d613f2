// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package store

import (
	"fmt"
	"slices"

	"github.com/velopad/telemetry/errors"
	"github.com/velopad/telemetry/sensor"
)

// Append-only history of one channel in the device timestamp domain. The
// producer appends in timestamp order; nothing here reorders.
type buffer struct {
	samples   []sensor.Sample
	retention int
}

func (b *buffer) append(s sensor.Sample) {
	b.samples = append(b.samples, s)

	// Trim to the newest retention samples once the history exceeds 1.5x.
	if b.retention > 0 && len(b.samples) > b.retention+b.retention/2 {
		keep := make([]sensor.Sample, b.retention)
		copy(keep, b.samples[len(b.samples)-b.retention:])
		b.samples = keep
	}
}

func (b *buffer) all() []sensor.Sample {
	return slices.Clone(b.samples)
}

// Return the samples in [first ts >= start, first ts > end).
func (b *buffer) between(start, end int64) ([]sensor.Sample, error) {
	first := slices.IndexFunc(b.samples, func(s sensor.Sample) bool {
		return s.Timestamp >= start
	})
	if first == -1 {
		return nil, &errors.Error{
			Message: fmt.Sprintf(
				"range start %d is higher than any stored sample",
				start,
			),
			Kind:          errors.RangeOutOfBounds,
			PropertyName:  "start",
			PropertyValue: start,
		}
	}

	last := slices.IndexFunc(b.samples, func(s sensor.Sample) bool {
		return s.Timestamp > end
	})
	if last == -1 {
		// The range extends past the stored data; truncate.
		last = len(b.samples)
	}
	if last < first {
		return []sensor.Sample{}, nil
	}

	return slices.Clone(b.samples[first:last]), nil
}
