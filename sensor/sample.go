// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package sensor

type (
	// Sample is a single channel measurement. Timestamp is in milliseconds;
	// whether it is device-relative or wall-clock depends on where the sample
	// was obtained.
	Sample struct {
		Timestamp int64
		Value     int
		Pressed   bool
	}

	// Reading is one device tick: a timestamp plus one value and pressed state
	// per channel, captured atomically.
	Reading struct {
		Timestamp int64
		Values    [NumChannels]int
		Pressed   [NumChannels]bool
	}
)

// Sample extracts the sample for a single channel of the reading.
func (r *Reading) Sample(ch Channel) Sample {
	return Sample{
		Timestamp: r.Timestamp,
		Value:     r.Values[ch],
		Pressed:   r.Pressed[ch],
	}
}
