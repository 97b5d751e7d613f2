// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Command padmon connects to a pad controller, follows every channel and logs
// what it sees. It optionally republishes the stream to an MQTT broker.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"
	"github.com/velopad/telemetry/bridge"
	"github.com/velopad/telemetry/config"
	"github.com/velopad/telemetry/device"
	"github.com/velopad/telemetry/events"
	"github.com/velopad/telemetry/internal/retry"
	"github.com/velopad/telemetry/sensor"
	"github.com/velopad/telemetry/store"
	"golang.org/x/term"
)

type monitor struct {
	conn    *device.Connection
	store   *store.Store
	subs    []*store.Subscription
	pressed [sensor.NumChannels]bool
	log     *slog.Logger
}

func main() {
	cfg := loadConfig()

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
	}))
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.New(cfg.StoreOptions(log)...)
	d := events.New(events.WithLogger(log))
	provider := must(cfg.Provider(log))
	conn := must(device.New(
		provider,
		st,
		d,
		device.WithLogger(log),
		device.WithDebug(cfg.Debug),
	))
	defer func() { _ = conn.Disconnect() }()

	must(d.OnThresholds(func(context.Context) {
		log.Info("thresholds",
			slog.String("values", sensor.FormatThresholds(st.Thresholds())),
		)
	}))
	must(d.OnMessage(func(_ context.Context, msg string) {
		log.Info("device message", slog.String("text", msg))
	}))

	m := &monitor{conn: conn, store: st, log: log}
	for _, ch := range sensor.Channels() {
		m.subs = append(m.subs, must(st.Subscribe(ch)))
	}

	if cfg.MQTT.Broker != "" {
		pub := must(bridge.New(ctx, bridge.Config{
			Broker:      cfg.MQTT.Broker,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			ClientID:    cfg.MQTT.ClientID,
			Interval:    time.Duration(cfg.MQTT.Interval),
			Format:      bridge.Format(cfg.MQTT.Format),
			Logger:      log,
		}, st, d))
		defer pub.Close()
		go func() { check(pub.Start(ctx)) }()
	}

	go m.connect(ctx)
	go m.poll(ctx, time.Duration(cfg.PollInterval))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down...")
	if !cfg.SummarySince.IsZero() {
		m.summarize(time.Time(cfg.SummarySince), time.Now())
	}
}

func loadConfig() *config.Config {
	fs := pflag.NewFlagSet("padmon", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	path := fs.StringP("config", "c", os.Getenv("VELOPAD_CONFIG"),
		"configuration file (YAML or TOML)")

	// The config file and the environment supply the flag defaults, so find
	// the file before binding the rest.
	fs.ParseErrorsAllowlist.UnknownFlags = true
	_ = fs.Parse(os.Args[1:])

	cfg := config.Default()
	if *path != "" {
		cfg = must(config.Load(*path))
	}
	check(cfg.FromEnv())

	fs = pflag.NewFlagSet("padmon", pflag.ExitOnError)
	fs.StringP("config", "c", *path, "configuration file (YAML or TOML)")
	cfg.BindFlags(fs)
	cfg.BindMQTTFlags(fs)
	cfg.BindSummaryFlags(fs)
	check(fs.Parse(os.Args[1:]))
	check(cfg.Validate())
	return cfg
}

// Keep the device connected, asking for thresholds each time the link opens.
func (m *monitor) connect(ctx context.Context) {
	backoff := &retry.ExponentialBackoff{Logger: m.log}
	for {
		err := backoff.Start(ctx, "connect", func(ctx context.Context) error {
			return m.conn.Connect(ctx, func() {
				if err := m.conn.AskThresholds(ctx); err != nil {
					m.log.Warn("could not ask for thresholds", "error", err)
				}
			})
		})
		if err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-m.conn.Done():
			m.log.Warn("device link lost; reconnecting")
		}
	}
}

// Drain every channel on each tick. Press and release transitions are logged
// at info level, per-poll totals at debug level.
func (m *monitor) poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, sub := range m.subs {
			samples, err := sub.Drain()
			if err != nil {
				m.log.Error("drain failed", "error", err)
				return
			}
			m.report(sub.Channel(), samples)
		}
	}
}

func (m *monitor) report(ch sensor.Channel, samples []sensor.Sample) {
	if len(samples) == 0 {
		return
	}

	for _, s := range samples {
		if s.Pressed == m.pressed[ch] {
			continue
		}
		m.pressed[ch] = s.Pressed

		what := "released"
		if s.Pressed {
			what = "pressed"
		}
		m.log.Info(what,
			slog.String("channel", ch.String()),
			slog.Int("value", s.Value),
			slog.Time("at", time.UnixMilli(s.Timestamp)),
		)
	}

	last := samples[len(samples)-1]
	m.log.Debug("poll",
		slog.String("channel", ch.String()),
		slog.Int("samples", len(samples)),
		slog.Int("last", last.Value),
		slog.Int("history", m.store.Len(ch)),
	)
}

func check(e error) {
	if e != nil {
		panic(e)
	}
}

func must[T any](t T, e error) T {
	check(e)
	return t
}

// Log the recorded history of every channel between two wall-clock instants.
func (m *monitor) summarize(since, until time.Time) {
	start, ok := m.store.DeviceTime(since)
	if !ok {
		m.log.Warn("no readings recorded; nothing to summarize")
		return
	}
	end, _ := m.store.DeviceTime(until)
	if end < start {
		m.log.Warn("summary window starts in the future",
			slog.Time("since", since),
		)
		return
	}

	for _, ch := range sensor.Channels() {
		samples, err := m.store.Query(ch,
			store.WithStart(start),
			store.WithEnd(end),
		)
		if err != nil {
			m.log.Warn("no history in summary window",
				slog.String("channel", ch.String()),
				"error", err,
			)
			continue
		}
		if len(samples) == 0 {
			continue
		}

		low, high, presses := samples[0].Value, samples[0].Value, 0
		pressed := samples[0].Pressed
		for _, s := range samples {
			low = min(low, s.Value)
			high = max(high, s.Value)
			if s.Pressed && !pressed {
				presses++
			}
			pressed = s.Pressed
		}
		m.log.Info("summary",
			slog.String("channel", ch.String()),
			slog.Int("samples", len(samples)),
			slog.Int("min", low),
			slog.Int("max", high),
			slog.Int("presses", presses),
		)
	}
}
