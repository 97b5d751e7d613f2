// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Command padrelay serves a locally attached pad controller to WebSocket
// clients.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"
	"github.com/velopad/telemetry/config"
	"github.com/velopad/telemetry/relay"
	"golang.org/x/term"
)

func main() {
	cfg := loadConfig()

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:   level,
		NoColor: !term.IsTerminal(int(os.Stderr.Fd())),
	}))
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := must(relay.New(must(cfg.Provider(log)), relay.WithLogger(log)))
	httpSrv := &http.Server{
		Addr:              cfg.Relay.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.Run(ctx); err != nil {
			log.Error("device loop stopped", "error", err)
		}
	}()
	go func() {
		log.Info("relay listening", slog.String("addr", cfg.Relay.Listen))
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			check(err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down...")
	cancel()

	shutdown, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	check(httpSrv.Shutdown(shutdown))
}

func loadConfig() *config.Config {
	fs := pflag.NewFlagSet("padrelay", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	path := fs.StringP("config", "c", os.Getenv("VELOPAD_CONFIG"),
		"configuration file (YAML or TOML)")
	fs.ParseErrorsAllowlist.UnknownFlags = true
	_ = fs.Parse(os.Args[1:])

	cfg := config.Default()
	cfg.Transport = config.TransportSerial
	if *path != "" {
		cfg = must(config.Load(*path))
	}
	check(cfg.FromEnv())

	fs = pflag.NewFlagSet("padrelay", pflag.ExitOnError)
	fs.StringP("config", "c", *path, "configuration file (YAML or TOML)")
	cfg.BindFlags(fs)
	cfg.BindRelayFlags(fs)
	check(fs.Parse(os.Args[1:]))
	check(cfg.Validate())
	return cfg
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
