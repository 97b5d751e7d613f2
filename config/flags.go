// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package config

import "github.com/spf13/pflag"

// BindFlags registers flags for the device link and store settings. Flag
// defaults are the current values, so bind after loading the file and the
// environment.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Transport, "transport", "t", c.Transport,
		"device link: websocket, serial or mock")
	fs.StringVar(&c.URL, "url", c.URL, "relay address for the websocket link")
	fs.StringVar(&c.Serial.Port, "serial-port", c.Serial.Port,
		"serial port; discovered by vendor id when empty")
	fs.IntVar(&c.Serial.BaudRate, "baud-rate", c.Serial.BaudRate,
		"serial line rate")
	fs.StringVar(&c.Serial.VendorID, "vendor-id", c.Serial.VendorID,
		"USB vendor id used to discover the controller")
	fs.Var(&c.Mock.Tick, "mock-tick", "interval between simulated readings")
	fs.Var(&c.PollInterval, "poll-interval", "subscription drain interval")
	fs.IntVar(&c.Retention, "retention", c.Retention,
		"samples kept per channel; 0 keeps everything")
	fs.BoolVarP(&c.Debug, "debug", "d", c.Debug, "trace every frame")
}

// BindSummaryFlags registers flags for the exit summary.
func (c *Config) BindSummaryFlags(fs *pflag.FlagSet) {
	fs.Var(&c.SummarySince, "summary-since",
		"on exit, summarize history recorded since this ISO 8601 time")
}

// BindMQTTFlags registers flags for the MQTT republisher.
func (c *Config) BindMQTTFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.MQTT.Broker, "mqtt-broker", c.MQTT.Broker,
		"MQTT broker address; republishing is off when empty")
	fs.StringVar(&c.MQTT.TopicPrefix, "mqtt-prefix", c.MQTT.TopicPrefix,
		"MQTT topic prefix")
	fs.StringVar(&c.MQTT.ClientID, "mqtt-client-id", c.MQTT.ClientID,
		"MQTT client id; generated when empty")
	fs.Var(&c.MQTT.Interval, "mqtt-interval", "MQTT publish interval")
	fs.StringVar(&c.MQTT.Format, "mqtt-format", c.MQTT.Format,
		"MQTT payload format: json or cbor")
}

// BindRelayFlags registers flags for the relay server.
func (c *Config) BindRelayFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Relay.Listen, "listen", "l", c.Relay.Listen,
		"relay listen address")
}
