// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package bridge republishes live telemetry to an MQTT broker. Drained
// samples go out per channel on a fixed interval; thresholds are published
// retained whenever the device reports them; device messages are forwarded
// as they arrive.
package bridge

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/velopad/telemetry/errors"
	"github.com/velopad/telemetry/events"
	"github.com/velopad/telemetry/internal/errutil"
	"github.com/velopad/telemetry/internal/log"
	"github.com/velopad/telemetry/internal/wallclock"
	"github.com/velopad/telemetry/sensor"
	"github.com/velopad/telemetry/store"
)

type (
	// Config selects the broker and topics.
	Config struct {
		// Broker is the broker address, e.g. tcp://localhost:1883.
		Broker string

		// TopicPrefix is prepended to every topic.
		TopicPrefix string

		// ClientID is the MQTT client id; one is generated when empty.
		ClientID string

		// Interval is how often samples are drained and published.
		Interval time.Duration

		// Format is the payload encoding; JSON when empty.
		Format Format

		Logger *slog.Logger
	}

	// Publisher drains one subscription per channel and republishes it.
	Publisher struct {
		client   *paho.Client
		store    *store.Store
		events   *events.Dispatcher
		subs     []*store.Subscription
		handlers []events.ID
		prefix   string
		interval time.Duration
		format   Format
		log      log.Logger

		flush sync.Mutex
		close sync.Once
	}

	// SamplesMessage is the payload published per channel and interval.
	SamplesMessage struct {
		Channel string   `json:"channel"`
		Samples []Sample `json:"samples"`
	}

	// Sample is one wall-clock sample; Timestamp is in Unix milliseconds.
	Sample struct {
		Timestamp int64 `json:"ts"`
		Value     int   `json:"value"`
		Pressed   bool  `json:"pressed"`
	}

	// ThresholdsMessage is the retained threshold payload.
	ThresholdsMessage struct {
		Thresholds []Threshold `json:"thresholds"`
	}

	// Threshold is one channel's thresholds; -1 means not yet reported.
	Threshold struct {
		Channel string `json:"channel"`
		Press   int    `json:"press"`
		Release int    `json:"release"`
	}
)

const publishTimeout = 5 * time.Second

// New connects to the broker and subscribes to every channel of the store.
func New(
	ctx context.Context,
	cfg Config,
	st *store.Store,
	d *events.Dispatcher,
) (*Publisher, error) {
	if err := errutil.ValidateNonNil(map[string]any{
		"store":      st,
		"dispatcher": d,
	}); err != nil {
		return nil, err
	}

	u, err := url.Parse(cfg.Broker)
	if err != nil || u.Host == "" {
		return nil, &errors.Error{
			Message:       "invalid broker address",
			Kind:          errors.ConfigurationInvalid,
			NestedError:   err,
			PropertyName:  "broker",
			PropertyValue: cfg.Broker,
		}
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, err
	}
	if cfg.Format == "" {
		cfg.Format = FormatJSON
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "velopad"
	}
	if cfg.ClientID == "" {
		id, err := errutil.NewID()
		if err != nil {
			return nil, err
		}
		cfg.ClientID = "velopad-" + id
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		return nil, &errors.Error{
			Message:       "could not reach broker",
			Kind:          errors.TransportError,
			NestedError:   err,
			PropertyName:  "broker",
			PropertyValue: cfg.Broker,
		}
	}

	client := paho.NewClient(paho.ClientConfig{
		ClientID: cfg.ClientID,
		Conn:     conn,
	})
	ack, err := client.Connect(ctx, &paho.Connect{
		ClientID:   cfg.ClientID,
		KeepAlive:  30,
		CleanStart: true,
	})
	if err != nil {
		_ = conn.Close()
		return nil, &errors.Error{
			Message:       "broker rejected connection",
			Kind:          errors.TransportError,
			NestedError:   err,
			PropertyName:  "broker",
			PropertyValue: cfg.Broker,
		}
	}

	p := &Publisher{
		client:   client,
		store:    st,
		events:   d,
		prefix:   strings.TrimSuffix(cfg.TopicPrefix, "/"),
		interval: cfg.Interval,
		format:   cfg.Format,
		log:      log.Wrap(cfg.Logger),
	}
	p.log.Info(ctx, "connected to broker",
		slog.String("broker", cfg.Broker),
		slog.String("client_id", cfg.ClientID),
		slog.String("format", string(cfg.Format)),
		slog.Int("reason_code", int(ack.ReasonCode)),
	)

	for _, ch := range sensor.Channels() {
		sub, err := st.Subscribe(ch)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.subs = append(p.subs, sub)
	}
	id, err := d.OnThresholds(p.publishThresholds)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.handlers = append(p.handlers, id)

	if id, err = d.OnMessage(p.publishMessage); err != nil {
		p.Close()
		return nil, err
	}
	p.handlers = append(p.handlers, id)
	return p, nil
}

// Topic returns the full topic for a suffix.
func (p *Publisher) Topic(suffix string) string {
	return p.prefix + "/" + suffix
}

// SamplesTopic returns the topic samples of a channel are published on.
func (p *Publisher) SamplesTopic(ch sensor.Channel) string {
	return p.Topic("samples/" + strings.ToLower(ch.String()))
}

// Start publishes on every interval until the context is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	ticker := wallclock.Instance.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if err := p.Flush(ctx); err != nil {
				p.log.Warn(ctx, err)
			}
		}
	}
}

// Flush drains every channel and publishes what it found. Empty channels are
// skipped.
func (p *Publisher) Flush(ctx context.Context) error {
	p.flush.Lock()
	defer p.flush.Unlock()

	for _, sub := range p.subs {
		samples, err := sub.Drain()
		if err != nil {
			return err
		}
		if len(samples) == 0 {
			continue
		}

		msg := SamplesMessage{
			Channel: strings.ToLower(sub.Channel().String()),
			Samples: make([]Sample, len(samples)),
		}
		for i, s := range samples {
			msg.Samples[i] = Sample{s.Timestamp, s.Value, s.Pressed}
		}
		if err := p.publish(ctx, p.SamplesTopic(sub.Channel()), msg, false); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishThresholds(ctx context.Context) {
	ts := p.store.Thresholds()
	msg := ThresholdsMessage{Thresholds: make([]Threshold, len(ts))}
	for i, t := range ts {
		msg.Thresholds[i] = Threshold{
			Channel: strings.ToLower(sensor.Channel(i).String()),
			Press:   t.Press,
			Release: t.Release,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.publish(ctx, p.Topic("thresholds"), msg, true); err != nil {
		p.log.Warn(ctx, err)
	}
}

func (p *Publisher) publishMessage(ctx context.Context, text string) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	_, err := p.client.Publish(ctx, &paho.Publish{
		Topic:   p.Topic("messages"),
		Payload: []byte(text),
		Properties: &paho.PublishProperties{
			ContentType: "text/plain",
		},
	})
	if err != nil {
		p.log.Warn(ctx, errors.Normalize(err, "publish"))
	}
}

func (p *Publisher) publish(
	ctx context.Context,
	topic string,
	msg any,
	retain bool,
) error {
	payload, err := p.format.marshal(msg)
	if err != nil {
		return err
	}

	_, err = p.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Retain:  retain,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType: p.format.ContentType(),
		},
	})
	if err != nil {
		return errors.Normalize(err, "publish")
	}
	return nil
}

// Close unsubscribes from the store and the dispatcher and disconnects from
// the broker.
func (p *Publisher) Close() {
	p.close.Do(func() {
		for _, id := range p.handlers {
			p.events.Unsubscribe(id)
		}
		for _, sub := range p.subs {
			p.store.Unsubscribe(sub)
		}
		_ = p.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	})
}
