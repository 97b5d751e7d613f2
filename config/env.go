// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/velopad/telemetry/errors"
)

// Environment variable prefix. VELOPAD_SERIAL_BAUD_RATE=115200 sets
// serial.baud_rate; underscores after the prefix are ignored.
const envPrefix = "VELOPAD_"

// FromEnv overlays VELOPAD_* variables from the process environment.
func (c *Config) FromEnv() error {
	return c.ApplyEnv(os.Environ())
}

// ApplyEnv overlays VELOPAD_* variables from a KEY=value list.
func (c *Config) ApplyEnv(environ []string) error {
	settings := map[string]string{}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, envPrefix) {
			continue
		}
		k = strings.ToLower(
			strings.ReplaceAll(strings.TrimPrefix(k, envPrefix), "_", ""),
		)
		settings[k] = strings.TrimSpace(v)
	}

	assignIfExists(settings, "transport", &c.Transport)
	assignIfExists(settings, "url", &c.URL)
	assignIfExists(settings, "serialport", &c.Serial.Port)
	assignIfExists(settings, "serialvendorid", &c.Serial.VendorID)
	assignIfExists(settings, "mqttbroker", &c.MQTT.Broker)
	assignIfExists(settings, "mqtttopicprefix", &c.MQTT.TopicPrefix)
	assignIfExists(settings, "mqttclientid", &c.MQTT.ClientID)
	assignIfExists(settings, "mqttformat", &c.MQTT.Format)
	assignIfExists(settings, "relaylisten", &c.Relay.Listen)

	ints := []struct {
		key  string
		name string
		dst  *int
	}{
		{"serialbaudrate", "VELOPAD_SERIAL_BAUD_RATE", &c.Serial.BaudRate},
		{"compactionthreshold", "VELOPAD_COMPACTION_THRESHOLD", &c.CompactionThreshold},
		{"retention", "VELOPAD_RETENTION", &c.Retention},
	}
	for _, i := range ints {
		value, exists := settings[i.key]
		if !exists {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return envInvalid(i.name, value, err)
		}
		*i.dst = n
	}

	durations := []struct {
		key  string
		name string
		dst  *Duration
	}{
		{"mocktick", "VELOPAD_MOCK_TICK", &c.Mock.Tick},
		{"pollinterval", "VELOPAD_POLL_INTERVAL", &c.PollInterval},
		{"mqttinterval", "VELOPAD_MQTT_INTERVAL", &c.MQTT.Interval},
	}
	for _, d := range durations {
		value, exists := settings[d.key]
		if !exists {
			continue
		}
		parsed, err := ParseDuration(value)
		if err != nil {
			return envInvalid(d.name, value, err)
		}
		*d.dst = Duration(parsed)
	}

	if value, exists := settings["summarysince"]; exists {
		if err := c.SummarySince.Set(value); err != nil {
			return envInvalid("VELOPAD_SUMMARY_SINCE", value, err)
		}
	}

	if value, exists := settings["debug"]; exists {
		debug, err := strconv.ParseBool(value)
		if err != nil {
			return envInvalid("VELOPAD_DEBUG", value, err)
		}
		c.Debug = debug
	}
	return nil
}

func assignIfExists(settings map[string]string, key string, dst *string) {
	if value, exists := settings[key]; exists {
		*dst = value
	}
}

func envInvalid(name, value string, err error) error {
	return &errors.Error{
		Message:       "invalid " + name,
		Kind:          errors.ConfigurationInvalid,
		NestedError:   err,
		PropertyName:  name,
		PropertyValue: value,
	}
}

