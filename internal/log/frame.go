// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/iancoleman/strcase"
)

// Frame logs the exported fields of a decoded or outbound wire frame at the
// given level.
func (l *Logger) Frame(
	ctx context.Context,
	level slog.Level,
	name string,
	frame any,
) {
	// This is expensive; bail out if we don't need it.
	if !l.Enabled(ctx, level) {
		return
	}

	val := realValue(reflect.ValueOf(frame))
	switch {
	case val.Kind() == reflect.Invalid:
		l.log(ctx, slog.LevelWarn, fmt.Sprintf("%s not available", name), nil)
	case val.Kind() == reflect.Struct:
		l.log(ctx, level, name, reflectAttrs(val))
	default:
		l.log(ctx, level, name, []slog.Attr{slog.Any("value", val.Interface())})
	}
}

func reflectAttrs(val reflect.Value) []slog.Attr {
	typ := val.Type()
	num := typ.NumField()
	var attrs []slog.Attr
	for i := range num {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}

		// Embedded structs are flattened into their parent.
		if f.Anonymous && realValue(val.Field(i)).Kind() == reflect.Struct {
			attrs = append(attrs, reflectAttrs(realValue(val.Field(i)))...)
			continue
		}

		attrs = append(attrs, reflectAttr(
			strcase.ToSnake(f.Name),
			realValue(val.Field(i)),
		)...)
	}
	return attrs
}

func reflectAttr(name string, val reflect.Value) []slog.Attr {
	// Ignore zero values to keep the log cleaner.
	if missingValue(val) {
		return nil
	}

	switch v := val.Interface().(type) {
	case []byte:
		return []slog.Attr{slog.String(name, string(v))}
	case fmt.Stringer:
		return []slog.Attr{slog.String(name, v.String())}
	}

	if val.Kind() == reflect.Struct {
		as := reflectAttrs(val)
		if len(as) == 0 {
			return nil
		}

		cpy := make([]any, len(as))
		for i, a := range as {
			cpy[i] = a
		}
		return []slog.Attr{slog.Group(name, cpy...)}
	}

	return []slog.Attr{slog.Any(name, val.Interface())}
}

func realValue(val reflect.Value) reflect.Value {
	for val.Kind() == reflect.Pointer || val.Kind() == reflect.Interface {
		val = val.Elem()
	}
	return val
}

func missingValue(val reflect.Value) bool {
	return val.Kind() == reflect.Invalid || val.IsZero()
}
