// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package protocol implements the line-oriented ASCII wire protocol spoken by
// the pad controller. Every inbound line starts with a fixed three byte tag;
// outbound commands are lower-case and must be newline terminated for the
// device to act on them without delay.
package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/velopad/telemetry/errors"
	"github.com/velopad/telemetry/sensor"
)

// TagLength is the fixed width of every inbound tag.
const TagLength = 3

// Inbound tags.
const (
	TagReading         = "SD "
	TagThresholds      = "ST "
	TagThresholdUpdate = "SU "
	TagMessage         = "M: "
)

// Outbound commands.
const (
	CmdAskThresholds = "sg"
	CmdSetThresholds = "su"
)

const (
	pressedTrue  = "T"
	pressedFalse = "F"
	pairSep      = ","
)

// Decode parses a single inbound line. Unknown tags decode to *UnknownFrame
// without error; malformed bodies of known tags fail with a MalformedFrame
// error.
func Decode(line string) (Frame, error) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) < TagLength {
		return &UnknownFrame{Tag: line}, nil
	}

	tag, body := line[:TagLength], line[TagLength:]
	switch tag {
	case TagReading:
		r, err := decodeReading(line, body)
		if err != nil {
			return nil, err
		}
		return &ReadingFrame{Reading: r}, nil

	case TagThresholds, TagThresholdUpdate:
		ts, err := sensor.ParseThresholds(body)
		if err != nil {
			return nil, malformed(line, "thresholds", body, err)
		}
		return &ThresholdFrame{
			Thresholds: ts,
			Update:     tag == TagThresholdUpdate,
		}, nil

	case TagMessage:
		return &MessageFrame{Text: body}, nil

	default:
		return &UnknownFrame{Tag: tag, Body: body}, nil
	}
}

func decodeReading(line, body string) (sensor.Reading, error) {
	var r sensor.Reading

	fields := strings.Fields(body)
	if len(fields) != sensor.NumChannels+1 {
		return r, &errors.Error{
			Message: fmt.Sprintf(
				"expected a tick and %d channel readings, got %d fields",
				sensor.NumChannels,
				len(fields),
			),
			Kind:          errors.MalformedFrame,
			PropertyName:  "fields",
			PropertyValue: len(fields),
			Line:          line,
		}
	}

	tick, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return r, malformed(line, "tick", fields[0], err)
	}
	r.Timestamp = tick

	for i, f := range fields[1:] {
		ch := sensor.Channel(i)

		value, flag, ok := strings.Cut(f, pairSep)
		if !ok {
			return r, malformed(line, ch.String(), f,
				fmt.Errorf("expected reading,flag pair"))
		}

		v, err := strconv.ParseUint(value, 10, 31)
		if err != nil {
			return r, malformed(line, ch.String(), value, err)
		}
		r.Values[ch] = int(v)

		switch flag {
		case pressedTrue:
			r.Pressed[ch] = true
		case pressedFalse:
			r.Pressed[ch] = false
		default:
			return r, malformed(line, ch.String(), flag,
				fmt.Errorf("pressed flag must be %s or %s",
					pressedTrue, pressedFalse))
		}
	}

	return r, nil
}

func malformed(line, field string, value any, err error) error {
	return &errors.Error{
		Message:       fmt.Sprintf("malformed frame field %s: %v", field, err),
		Kind:          errors.MalformedFrame,
		NestedError:   err,
		PropertyName:  field,
		PropertyValue: value,
		Line:          line,
	}
}

// EnsureNewline appends a trailing newline if one is not already present.
func EnsureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// EncodeThresholdRequest returns the command asking the device to report its
// current thresholds.
func EncodeThresholdRequest() string {
	return EnsureNewline(CmdAskThresholds)
}

// EncodeThresholdUpdate returns the command setting the device thresholds,
// one "press,release" pair per channel.
func EncodeThresholdUpdate(ts []sensor.Threshold) string {
	var b strings.Builder
	b.WriteString(CmdSetThresholds)
	for _, t := range ts {
		b.WriteByte(' ')
		b.WriteString(t.String())
	}
	return EnsureNewline(b.String())
}
