// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package sensor

import (
	"fmt"
	"strconv"
	"strings"
)

// Unknown is the sentinel threshold value used until the device reports
// real values.
const Unknown = -1

const (
	channelSep   = " "
	thresholdSep = ","
)

// Threshold is the press/release pair for one channel. It is a value type, so
// every copy is independent of the one it was copied from.
type Threshold struct {
	Press   int
	Release int
}

// UnknownThreshold returns a threshold whose values have not been reported.
func UnknownThreshold() Threshold {
	return Threshold{Press: Unknown, Release: Unknown}
}

// Clone returns an independent copy of the threshold.
func (t Threshold) Clone() Threshold {
	return Threshold{Press: t.Press, Release: t.Release}
}

// Known reports whether both values have been reported by the device.
func (t Threshold) Known() bool {
	return t.Press != Unknown && t.Release != Unknown
}

// String returns the wire form of the threshold, "press,release".
func (t Threshold) String() string {
	return strconv.Itoa(t.Press) + thresholdSep + strconv.Itoa(t.Release)
}

// ParseThreshold parses a single "press,release" pair.
func ParseThreshold(s string) (Threshold, error) {
	press, release, ok := strings.Cut(s, thresholdSep)
	if !ok || strings.Contains(release, thresholdSep) {
		return Threshold{}, fmt.Errorf(
			"expected press,release pair, got %q", s,
		)
	}

	p, err := strconv.Atoi(press)
	if err != nil {
		return Threshold{}, fmt.Errorf("press threshold %q: %w", press, err)
	}
	r, err := strconv.Atoi(release)
	if err != nil {
		return Threshold{}, fmt.Errorf("release threshold %q: %w", release, err)
	}
	return Threshold{Press: p, Release: r}, nil
}

// ParseThresholds parses a space-separated list of "press,release" pairs,
// one per channel in wire order.
func ParseThresholds(s string) ([]Threshold, error) {
	fields := strings.Fields(s)
	if len(fields) != NumChannels {
		return nil, fmt.Errorf(
			"expected %d channel thresholds, got %d",
			NumChannels,
			len(fields),
		)
	}

	ts := make([]Threshold, len(fields))
	for i, f := range fields {
		t, err := ParseThreshold(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", Channel(i), err)
		}
		ts[i] = t
	}
	return ts, nil
}

// FormatThresholds returns the space-separated wire form of the thresholds.
func FormatThresholds(ts []Threshold) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, channelSep)
}
