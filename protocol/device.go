// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/velopad/telemetry/errors"
	"github.com/velopad/telemetry/sensor"
)

// The functions below speak the device side of the protocol. They back the
// mock device and let tests produce wire lines without hand-writing them.

// EncodeReading returns the `SD` line for a reading.
func EncodeReading(r *sensor.Reading) string {
	var b strings.Builder
	b.WriteString(TagReading)
	b.WriteString(strconv.FormatInt(r.Timestamp, 10))
	for ch := range sensor.NumChannels {
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(r.Values[ch]))
		b.WriteString(pairSep)
		if r.Pressed[ch] {
			b.WriteString(pressedTrue)
		} else {
			b.WriteString(pressedFalse)
		}
	}
	return EnsureNewline(b.String())
}

// EncodeThresholds returns the `ST` report line, or the `SU` line if update is
// set.
func EncodeThresholds(update bool, ts []sensor.Threshold) string {
	tag := TagThresholds
	if update {
		tag = TagThresholdUpdate
	}
	return EnsureNewline(tag + sensor.FormatThresholds(ts))
}

// EncodeMessage returns the `M:` line for a diagnostic message.
func EncodeMessage(text string) string {
	return EnsureNewline(TagMessage + text)
}

// DecodeCommand parses a host-to-device command line.
func DecodeCommand(line string) (*Command, error) {
	line = strings.TrimRight(line, "\r\n ")

	switch {
	case line == CmdAskThresholds:
		return &Command{Kind: AskThresholds}, nil

	case strings.HasPrefix(line, CmdSetThresholds+" "):
		body := strings.TrimPrefix(line, CmdSetThresholds)
		ts, err := sensor.ParseThresholds(body)
		if err != nil {
			return nil, malformed(line, "thresholds", body, err)
		}
		return &Command{Kind: SetThresholds, Thresholds: ts}, nil

	default:
		return nil, &errors.Error{
			Message:       fmt.Sprintf("unknown command %q", line),
			Kind:          errors.MalformedFrame,
			PropertyName:  "command",
			PropertyValue: line,
			Line:          line,
		}
	}
}
