// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package config

import (
	"time"

	"github.com/sosodev/duration"
)

// Duration is a time.Duration that reads either ISO 8601 (`PT0.05S`) or Go
// syntax (`50ms`) and writes ISO 8601.
type Duration time.Duration

// ParseDuration parses an ISO 8601 or Go duration string.
func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	parsed, err := duration.Parse(s)
	if err != nil {
		return 0, err
	}
	return parsed.ToTimeDuration(), nil
}

// String returns the duration as an ISO 8601 string.
func (d Duration) String() string {
	return duration.Format(time.Duration(d))
}

// MarshalText marshals the duration to an ISO 8601 string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText unmarshals the duration from an ISO 8601 or Go string.
func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Set parses the flag value; it makes Duration a pflag.Value.
func (d *Duration) Set(s string) error {
	return d.UnmarshalText([]byte(s))
}

// Type names the flag value type.
func (*Duration) Type() string {
	return "duration"
}
