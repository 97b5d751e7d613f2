// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package errors

import "log/slog"

// Attrs returns additional error attributes for slog.
func (e *Error) Attrs() []slog.Attr {
	a := make([]slog.Attr, 0, 6)

	a = append(a, slog.String("kind", e.Kind.String()))

	if e.NestedError != nil {
		a = append(a, slog.Any("nested_error", e.NestedError))
	}

	switch e.Kind {
	case MalformedFrame:
		a = append(a, slog.String("line", e.Line))
		if e.PropertyName != "" {
			a = append(a, slog.String("field_name", e.PropertyName))
		}
		if e.PropertyValue != nil {
			a = append(a, slog.Any("field_value", e.PropertyValue))
		}
	case ArgumentInvalid, ConfigurationInvalid, RangeOutOfBounds:
		a = append(a,
			slog.String("property_name", e.PropertyName),
			slog.Any("property_value", e.PropertyValue),
		)
	case StateInvalid:
		a = append(a, slog.String("property_name", e.PropertyName))
		if e.PropertyValue != nil {
			a = append(a, slog.Any("property_value", e.PropertyValue))
		}
	}

	return a
}
