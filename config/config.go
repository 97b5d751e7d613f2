// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package config loads the settings shared by the velopad commands. Values
// come from built-in defaults, then an optional YAML file, then VELOPAD_*
// environment variables, then command-line flags.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/velopad/telemetry/bridge"
	"github.com/velopad/telemetry/errors"
	"github.com/velopad/telemetry/store"
	"github.com/velopad/telemetry/transport"
	"gopkg.in/yaml.v3"
)

type (
	// Config is the complete configuration of a velopad process.
	Config struct {
		// Transport selects the device link: websocket, serial or mock.
		Transport string `yaml:"transport" toml:"transport"`

		// URL is the relay address for the websocket transport.
		URL string `yaml:"url" toml:"url"`

		Serial SerialConfig `yaml:"serial" toml:"serial"`
		Mock   MockConfig   `yaml:"mock" toml:"mock"`

		// PollInterval is how often consumers drain their subscriptions.
		PollInterval Duration `yaml:"poll_interval" toml:"poll_interval"`

		// CompactionThreshold overrides the subscription compaction point.
		CompactionThreshold int `yaml:"compaction_threshold" toml:"compaction_threshold"`

		// Retention bounds the per-channel history; zero keeps everything.
		Retention int `yaml:"retention" toml:"retention"`

		// Debug traces every frame.
		Debug bool `yaml:"debug" toml:"debug"`

		// SummarySince makes padmon log a per-channel summary of the history
		// recorded since this instant when it exits.
		SummarySince Time `yaml:"summary_since" toml:"summary_since"`

		MQTT  MQTTConfig  `yaml:"mqtt" toml:"mqtt"`
		Relay RelayConfig `yaml:"relay" toml:"relay"`
	}

	// SerialConfig configures the serial transport.
	SerialConfig struct {
		Port     string `yaml:"port" toml:"port"`
		BaudRate int    `yaml:"baud_rate" toml:"baud_rate"`
		VendorID string `yaml:"vendor_id" toml:"vendor_id"`
	}

	// MockConfig configures the simulated device.
	MockConfig struct {
		Tick Duration `yaml:"tick" toml:"tick"`
	}

	// MQTTConfig configures the optional MQTT republisher. It is disabled
	// while Broker is empty.
	MQTTConfig struct {
		Broker      string   `yaml:"broker" toml:"broker"`
		TopicPrefix string   `yaml:"topic_prefix" toml:"topic_prefix"`
		ClientID    string   `yaml:"client_id" toml:"client_id"`
		Interval    Duration `yaml:"interval" toml:"interval"`

		// Format is the payload encoding: json or cbor.
		Format string `yaml:"format" toml:"format"`
	}

	// RelayConfig configures the relay server.
	RelayConfig struct {
		Listen string `yaml:"listen" toml:"listen"`
	}
)

// Transport kinds.
const (
	TransportWebSocket = "websocket"
	TransportSerial    = "serial"
	TransportMock      = "mock"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Transport: TransportMock,
		URL:       "ws://localhost:8080/",
		Serial: SerialConfig{
			BaudRate: transport.DefaultBaudRate,
			VendorID: transport.DefaultVendorID,
		},
		Mock:                MockConfig{Tick: Duration(transport.DefaultTick)},
		PollInterval:        Duration(100 * time.Millisecond),
		CompactionThreshold: store.DefaultCompactionThreshold,
		MQTT: MQTTConfig{
			TopicPrefix: "velopad",
			Interval:    Duration(time.Second),
			Format:      string(bridge.FormatJSON),
		},
		Relay: RelayConfig{Listen: ":8080"},
	}
}

// Load reads a YAML or, for a .toml extension, TOML file over the defaults.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		md, err := toml.DecodeFile(path, cfg)
		if err == nil {
			if keys := md.Undecoded(); len(keys) > 0 {
				err = fmt.Errorf("unknown key %q", keys[0].String())
			}
		}
		if err != nil {
			return nil, &errors.Error{
				Message:       fmt.Sprintf("invalid configuration file: %s", err),
				Kind:          errors.ConfigurationInvalid,
				NestedError:   err,
				PropertyName:  "path",
				PropertyValue: path,
			}
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.Error{
			Message:       "could not read configuration file",
			Kind:          errors.ConfigurationInvalid,
			NestedError:   err,
			PropertyName:  "path",
			PropertyValue: path,
		}
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, &errors.Error{
			Message:       fmt.Sprintf("invalid configuration file: %s", err),
			Kind:          errors.ConfigurationInvalid,
			NestedError:   err,
			PropertyName:  "path",
			PropertyValue: path,
		}
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportWebSocket:
		u, err := url.Parse(c.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return invalid("url", c.URL, "url must be a ws:// or wss:// address")
		}
	case TransportSerial:
		if c.Serial.BaudRate <= 0 {
			return invalid("serial.baud_rate", c.Serial.BaudRate,
				"baud rate must be positive")
		}
		if c.Serial.Port == "" && c.Serial.VendorID == "" {
			return invalid("serial.vendor_id", c.Serial.VendorID,
				"either a port or a vendor id is required")
		}
	case TransportMock:
		if c.Mock.Tick <= 0 {
			return invalid("mock.tick", c.Mock.Tick, "tick must be positive")
		}
	default:
		return invalid("transport", c.Transport,
			"transport must be websocket, serial or mock")
	}

	if c.PollInterval <= 0 {
		return invalid("poll_interval", c.PollInterval,
			"poll interval must be positive")
	}
	if c.CompactionThreshold <= 0 {
		return invalid("compaction_threshold", c.CompactionThreshold,
			"compaction threshold must be positive")
	}
	if c.Retention < 0 {
		return invalid("retention", c.Retention, "retention must not be negative")
	}

	if c.MQTT.Broker != "" {
		u, err := url.Parse(c.MQTT.Broker)
		if err != nil || u.Host == "" {
			return invalid("mqtt.broker", c.MQTT.Broker,
				"broker must be an address like tcp://host:1883")
		}
		if c.MQTT.TopicPrefix == "" {
			return invalid("mqtt.topic_prefix", c.MQTT.TopicPrefix,
				"topic prefix must not be empty")
		}
		if c.MQTT.Interval <= 0 {
			return invalid("mqtt.interval", c.MQTT.Interval,
				"publish interval must be positive")
		}
		if bridge.Format(c.MQTT.Format).Validate() != nil {
			return invalid("mqtt.format", c.MQTT.Format,
				"payload format must be json or cbor")
		}
	}
	return nil
}

// Provider returns the transport provider the configuration selects.
func (c *Config) Provider(logger *slog.Logger) (transport.Provider, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	switch c.Transport {
	case TransportWebSocket:
		return transport.WebSocket(c.URL, transport.WithLogger(logger)), nil
	case TransportSerial:
		return transport.Serial(transport.SerialConfig{
			Port:     c.Serial.Port,
			BaudRate: c.Serial.BaudRate,
			VendorID: c.Serial.VendorID,
		}, transport.WithLogger(logger)), nil
	default:
		return transport.Mock(
			transport.WithTick(time.Duration(c.Mock.Tick)),
			transport.WithLogger(logger),
		), nil
	}
}

// StoreOptions returns the store options the configuration selects.
func (c *Config) StoreOptions(logger *slog.Logger) []store.Option {
	return []store.Option{
		store.WithCompactionThreshold(c.CompactionThreshold),
		store.WithRetention(c.Retention),
		store.WithLogger(logger),
	}
}

func invalid(name string, value any, msg string) error {
	return &errors.Error{
		Message:       msg,
		Kind:          errors.ConfigurationInvalid,
		PropertyName:  name,
		PropertyValue: value,
	}
}
