// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package config

import (
	"time"

	"github.com/relvacode/iso8601"
)

// Time is a wall-clock instant read and written in ISO 8601.
type Time time.Time

// IsZero reports whether the time is unset.
func (t Time) IsZero() bool {
	return time.Time(t).IsZero()
}

// String returns the time as an RFC 3339 string, or an empty string when
// unset.
func (t Time) String() string {
	if t.IsZero() {
		return ""
	}
	return time.Time(t).Format(time.RFC3339Nano)
}

// MarshalText marshals the time to an ISO 8601 string.
func (t Time) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText unmarshals the time from an ISO 8601 string.
func (t *Time) UnmarshalText(b []byte) error {
	parsed, err := iso8601.Parse(b)
	if err != nil {
		return err
	}
	*t = Time(parsed)
	return nil
}

// Set parses the flag value; it makes Time a pflag.Value.
func (t *Time) Set(s string) error {
	return t.UnmarshalText([]byte(s))
}

// Type names the flag value type.
func (*Time) Type() string {
	return "time"
}
