// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package sensor holds the data model shared by the wire codec, the store and
// its consumers: the fixed set of pad channels, per-tick readings and the
// per-channel press/release thresholds.
package sensor

// Channel identifies one sensor direction on the pad. The set is fixed at
// compile time; channels are never added or removed at runtime.
type Channel int

// The pad channels, in wire order (LDUR).
const (
	Left Channel = iota
	Down
	Up
	Right
)

// NumChannels is the number of channels carried by every frame.
const NumChannels = 4

var channelNames = [NumChannels]string{"Left", "Down", "Up", "Right"}

// Channels returns every channel in wire order.
func Channels() []Channel {
	return []Channel{Left, Down, Up, Right}
}

// Valid reports whether the channel is one of the fixed pad channels.
func (c Channel) Valid() bool {
	return c >= 0 && c < NumChannels
}

// String returns the display name of the channel.
func (c Channel) String() string {
	if !c.Valid() {
		return "Invalid"
	}
	return channelNames[c]
}
