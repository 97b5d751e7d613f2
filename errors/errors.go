// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package errors

type (
	// Error represents a structured telemetry error.
	Error struct {
		Message string
		Kind    Kind

		NestedError error

		PropertyName  string
		PropertyValue any

		// Line is the raw wire line that failed to decode, if any.
		Line string
	}

	// Kind defines the type of error being thrown.
	Kind int
)

// The following are the defined error kinds.
const (
	MalformedFrame Kind = iota
	ArgumentInvalid
	RangeOutOfBounds
	NotConnected
	StateInvalid
	ConfigurationInvalid
	TransportError
	UnknownError
)

var kindNames = [...]string{
	MalformedFrame:       "malformed frame",
	ArgumentInvalid:      "argument invalid",
	RangeOutOfBounds:     "range out of bounds",
	NotConnected:         "not connected",
	StateInvalid:         "state invalid",
	ConfigurationInvalid: "configuration invalid",
	TransportError:       "transport error",
	UnknownError:         "unknown error",
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the nested error, if any.
func (e *Error) Unwrap() error {
	return e.NestedError
}

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown error"
	}
	return kindNames[k]
}
