// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package errutil

import (
	"reflect"

	"github.com/google/uuid"
	"github.com/velopad/telemetry/errors"
)

// Validate that a collection of arguments are not nil.
func ValidateNonNil(args map[string]any) error {
	for k, v := range args {
		if isNil(v) {
			return &errors.Error{
				Message:      "argument is nil",
				Kind:         errors.ArgumentInvalid,
				PropertyName: k,
			}
		}
	}
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}

// NewID generates a time-ordered UUID string, mapping failures to a
// telemetry error.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", &errors.Error{
			Message:     err.Error(),
			Kind:        errors.UnknownError,
			NestedError: err,
		}
	}
	return id.String(), nil
}
