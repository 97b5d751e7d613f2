// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package retry repeats link setup until it sticks.
package retry

import (
	"context"
	"errors"
)

type (
	// Task is one attempt. Wrap the error with Permanent to stop retrying.
	Task = func(context.Context) error

	// Policy runs a task until it succeeds, fails permanently or the context
	// ends.
	Policy interface {
		Start(ctx context.Context, name string, task Task) error
	}

	permanent struct{ error }
)

// Permanent marks an error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err}
}

func (p permanent) Unwrap() error { return p.error }

// IsPermanent reports whether the error was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p)
}
