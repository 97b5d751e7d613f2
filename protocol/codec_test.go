// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/velopad/telemetry/errors"
	"github.com/velopad/telemetry/protocol"
	"github.com/velopad/telemetry/sensor"
)

func TestDecodeReading(t *testing.T) {
	f, err := protocol.Decode("SD 1234 600,F 601,T 0,F 1023,T\r\n")
	require.NoError(t, err)

	rf, ok := f.(*protocol.ReadingFrame)
	require.True(t, ok)
	require.Equal(t, int64(1234), rf.Timestamp)
	require.Equal(t, [sensor.NumChannels]int{600, 601, 0, 1023}, rf.Values)
	require.Equal(t, [sensor.NumChannels]bool{false, true, false, true}, rf.Pressed)
}

func TestDecodeThresholds(t *testing.T) {
	f, err := protocol.Decode("ST 500,450 510,460 520,470 530,480")
	require.NoError(t, err)

	tf, ok := f.(*protocol.ThresholdFrame)
	require.True(t, ok)
	require.False(t, tf.Update)
	require.Len(t, tf.Thresholds, sensor.NumChannels)
	require.Equal(t, sensor.Threshold{Press: 530, Release: 480}, tf.Thresholds[sensor.Right])

	f, err = protocol.Decode("SU 1,2 3,4 5,6 7,8\n")
	require.NoError(t, err)

	tf, ok = f.(*protocol.ThresholdFrame)
	require.True(t, ok)
	require.True(t, tf.Update)
	require.Equal(t, sensor.Threshold{Press: 1, Release: 2}, tf.Thresholds[sensor.Left])
}

func TestDecodeMessage(t *testing.T) {
	f, err := protocol.Decode("M: calibrating, do not step on pad\n")
	require.NoError(t, err)
	require.Equal(t,
		&protocol.MessageFrame{Text: "calibrating, do not step on pad"},
		f,
	)
}

func TestDecodeUnknown(t *testing.T) {
	f, err := protocol.Decode("XX hello")
	require.NoError(t, err)
	require.Equal(t, &protocol.UnknownFrame{Tag: "XX ", Body: "hello"}, f)

	f, err = protocol.Decode("S")
	require.NoError(t, err)
	require.Equal(t, &protocol.UnknownFrame{Tag: "S"}, f)

	// A colon after the tag is not a reading.
	f, err = protocol.Decode("SD:600 600 600 600")
	require.NoError(t, err)
	require.IsType(t, &protocol.UnknownFrame{}, f)
}

func TestDecodeMalformed(t *testing.T) {
	for _, line := range []string{
		"SD 10 5,X 5,F 5,F 5,F",
		"SD 10 5,F 5,F 5,F",
		"SD 10 5,F 5,F 5,F 5,F 5,F",
		"SD ten 5,F 5,F 5,F 5,F",
		"SD 10 five,F 5,F 5,F 5,F",
		"SD 10 -5,F 5,F 5,F 5,F",
		"SD 10 5 5,F 5,F 5,F",
		"SD 10 5,t 5,F 5,F 5,F",
		"SD ",
		"ST 500,450 510,460 520,470",
		"SU 500 510,460 520,470 530,480",
		"ST a,b c,d e,f g,h",
	} {
		f, err := protocol.Decode(line)
		require.Nil(t, f, line)
		require.True(t, errors.IsKind(err, errors.MalformedFrame), line)

		var e *errors.Error
		require.ErrorAs(t, err, &e)
		require.Equal(t, line, e.Line)
	}
}

func TestEncodeCommands(t *testing.T) {
	require.Equal(t, "sg\n", protocol.EncodeThresholdRequest())
	require.Equal(t,
		"su 500,450 510,460 520,470 530,480\n",
		protocol.EncodeThresholdUpdate([]sensor.Threshold{
			{Press: 500, Release: 450},
			{Press: 510, Release: 460},
			{Press: 520, Release: 470},
			{Press: 530, Release: 480},
		}),
	)
	require.Equal(t, "su\n", protocol.EncodeThresholdUpdate(nil))
}

func TestEnsureNewline(t *testing.T) {
	require.Equal(t, "sg\n", protocol.EnsureNewline("sg"))
	require.Equal(t, "sg\n", protocol.EnsureNewline("sg\n"))
}

func TestDeviceSide(t *testing.T) {
	r := &sensor.Reading{
		Timestamp: 50,
		Values:    [sensor.NumChannels]int{1, 2, 3, 4},
		Pressed:   [sensor.NumChannels]bool{true, false, false, true},
	}
	line := protocol.EncodeReading(r)
	require.Equal(t, "SD 50 1,T 2,F 3,F 4,T\n", line)

	f, err := protocol.Decode(line)
	require.NoError(t, err)
	require.Equal(t, &protocol.ReadingFrame{Reading: *r}, f)

	ts := []sensor.Threshold{
		{Press: 1, Release: 2},
		{Press: 3, Release: 4},
		{Press: 5, Release: 6},
		{Press: 7, Release: 8},
	}
	require.Equal(t, "ST 1,2 3,4 5,6 7,8\n", protocol.EncodeThresholds(false, ts))
	require.Equal(t, "SU 1,2 3,4 5,6 7,8\n", protocol.EncodeThresholds(true, ts))
	require.Equal(t, "M: hi\n", protocol.EncodeMessage("hi"))
}

func TestDecodeCommand(t *testing.T) {
	cmd, err := protocol.DecodeCommand("sg\n")
	require.NoError(t, err)
	require.Equal(t, protocol.AskThresholds, cmd.Kind)

	cmd, err = protocol.DecodeCommand("su 1,2 3,4 5,6 7,8\n")
	require.NoError(t, err)
	require.Equal(t, protocol.SetThresholds, cmd.Kind)
	require.Equal(t, []sensor.Threshold{
		{Press: 1, Release: 2},
		{Press: 3, Release: 4},
		{Press: 5, Release: 6},
		{Press: 7, Release: 8},
	}, cmd.Thresholds)

	_, err = protocol.DecodeCommand("su 1,2")
	require.True(t, errors.IsKind(err, errors.MalformedFrame))

	_, err = protocol.DecodeCommand("reboot")
	require.True(t, errors.IsKind(err, errors.MalformedFrame))
}
