// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package bridge

import (
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
	"github.com/velopad/telemetry/errors"
)

// Format selects the payload encoding of samples and thresholds.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

var cborMode cbor.EncMode

func init() {
	var err error
	// Deterministic so identical thresholds produce identical retained
	// payloads.
	cborMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("bridge: CBOR encoder initialization failed: " + err.Error())
	}
}

// ContentType returns the MQTT content type of the format.
func (f Format) ContentType() string {
	if f == FormatCBOR {
		return "application/cbor"
	}
	return "application/json"
}

// Validate checks that the format is known. The empty format means JSON.
func (f Format) Validate() error {
	switch f {
	case "", FormatJSON, FormatCBOR:
		return nil
	default:
		return &errors.Error{
			Message:       "unknown payload format",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "format",
			PropertyValue: string(f),
		}
	}
}

func (f Format) marshal(msg any) ([]byte, error) {
	var payload []byte
	var err error
	if f == FormatCBOR {
		payload, err = cborMode.Marshal(msg)
	} else {
		payload, err = json.Marshal(msg)
	}
	if err != nil {
		return nil, &errors.Error{
			Message:     "could not serialize payload",
			Kind:        errors.UnknownError,
			NestedError: err,
		}
	}
	return payload, nil
}
