// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// Normalize well-known errors into telemetry errors.
func Normalize(err error, msg string) error {
	if e, ok := err.(*Error); ok {
		return e
	}

	switch {
	case err == nil:
		return nil

	case errors.Is(err, io.EOF):
		return &Error{
			Message:     fmt.Sprintf("%s: connection closed", msg),
			Kind:        TransportError,
			NestedError: err,
		}

	case os.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return &Error{
			Message:     fmt.Sprintf("%s timed out", msg),
			Kind:        TransportError,
			NestedError: err,
		}

	case errors.Is(err, context.Canceled):
		return &Error{
			Message:     fmt.Sprintf("%s cancelled", msg),
			Kind:        StateInvalid,
			NestedError: err,
		}

	default:
		return &Error{
			Message:     fmt.Sprintf("%s error: %s", msg, err.Error()),
			Kind:        UnknownError,
			NestedError: err,
		}
	}
}

// IsKind reports whether any error in err's chain is a telemetry error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
