// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package protocol

import "github.com/velopad/telemetry/sensor"

type (
	// Frame is one decoded line of the wire protocol.
	Frame interface{ frame() }

	// ReadingFrame carries one device tick (`SD`).
	ReadingFrame struct {
		sensor.Reading
	}

	// ThresholdFrame carries a full per-channel threshold report (`ST`) or an
	// unsolicited update (`SU`). Both are handled identically; Update only
	// records which tag was seen.
	ThresholdFrame struct {
		Thresholds []sensor.Threshold
		Update     bool
	}

	// MessageFrame carries a free-text diagnostic message (`M:`). The payload
	// is opaque.
	MessageFrame struct {
		Text string
	}

	// UnknownFrame is any line whose tag is not recognized. It is not an
	// error; callers log and drop it.
	UnknownFrame struct {
		Tag  string
		Body string
	}

	// CommandKind identifies a host-to-device command.
	CommandKind int

	// Command is a decoded host-to-device line, as seen by the device.
	Command struct {
		Kind       CommandKind
		Thresholds []sensor.Threshold
	}
)

// The host-to-device commands.
const (
	AskThresholds CommandKind = iota
	SetThresholds
)

func (*ReadingFrame) frame()   {}
func (*ThresholdFrame) frame() {}
func (*MessageFrame) frame()   {}
func (*UnknownFrame) frame()   {}

func (k CommandKind) String() string {
	switch k {
	case AskThresholds:
		return "ask thresholds"
	case SetThresholds:
		return "set thresholds"
	default:
		return "unknown"
	}
}
