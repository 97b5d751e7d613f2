// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package relay bridges a locally attached pad controller to any number of
// WebSocket clients. Every device line is broadcast to every client; threshold
// commands from clients are forwarded to the device.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/velopad/telemetry/errors"
	"github.com/velopad/telemetry/internal/container"
	"github.com/velopad/telemetry/internal/errutil"
	"github.com/velopad/telemetry/internal/log"
	"github.com/velopad/telemetry/internal/retry"
	"github.com/velopad/telemetry/protocol"
	"github.com/velopad/telemetry/transport"
)

type (
	// Server is an http.Handler accepting relay clients, plus a device loop
	// started with Run.
	Server struct {
		provider transport.Provider
		clients  *container.SyncMap[string, *client]
		upgrader websocket.Upgrader
		backoff  retry.Policy
		queue    int
		log      log.Logger
		logger   *slog.Logger

		mu     sync.RWMutex
		device transport.Transport
	}

	client struct {
		id   string
		conn *transport.WebSocketConn
		send chan string
		done chan struct{}
		once sync.Once
	}
)

// New creates a relay for the device the provider opens.
func New(provider transport.Provider, opt ...Option) (*Server, error) {
	if err := errutil.ValidateNonNil(map[string]any{
		"provider": provider,
	}); err != nil {
		return nil, err
	}

	var opts Options
	opts.Apply(opt)
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	return &Server{
		provider: provider,
		clients:  container.NewSyncMap[string, *client](),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{transport.Subprotocol},
			// Any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		backoff: &retry.ExponentialBackoff{
			MinInterval: opts.ReconnectInterval,
			MaxInterval: max(30*time.Second, opts.ReconnectInterval),
			Logger:      opts.Logger,
		},
		queue:  opts.QueueSize,
		log:    log.Wrap(opts.Logger),
		logger: opts.Logger,
	}, nil
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	return s.clients.Len()
}

// DeviceConnected reports whether the device is currently open.
func (s *Server) DeviceConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device != nil
}

// Run opens the device and broadcasts its lines until the context is
// cancelled. A failed or lost device is reopened with exponential backoff.
func (s *Server) Run(ctx context.Context) error {
	for {
		var dev transport.Transport
		err := s.backoff.Start(ctx, "open device", func(
			ctx context.Context,
		) error {
			var err error
			dev, err = s.provider(ctx)
			if errors.IsKind(err, errors.ConfigurationInvalid) {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		s.setDevice(dev)
		s.log.Info(ctx, "device open")

		err = s.pump(ctx, dev)

		s.setDevice(nil)
		_ = dev.Close()
		if ctx.Err() != nil {
			return nil
		}
		s.log.Warn(ctx, err)
	}
}

func (s *Server) setDevice(dev transport.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.device = dev
}

func (s *Server) pump(ctx context.Context, dev transport.Transport) error {
	for {
		line, err := dev.ReadLine(ctx)
		if err != nil {
			return err
		}
		s.broadcast(ctx, line)
	}
}

func (s *Server) broadcast(ctx context.Context, line string) {
	for _, c := range s.clients.Values() {
		select {
		case c.send <- line:
		case <-c.done:
		default:
			s.log.Debug(ctx, "client too slow, line dropped",
				slog.String("client", c.id),
			)
		}
	}
}

// ServeHTTP upgrades WebSocket requests to relay clients. Plain requests get
// a short status page.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintf(w, "velopad relay: device connected %t, %d clients\n",
			s.DeviceConnected(), s.Clients())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied.
		s.log.Warn(ctx, errors.Normalize(err, "upgrade"))
		return
	}

	id, err := errutil.NewID()
	if err != nil {
		s.log.Err(ctx, err)
		_ = conn.Close()
		return
	}

	c := &client{
		id:   id,
		conn: transport.NewWebSocketConn(conn, transport.WithLogger(s.logger)),
		send: make(chan string, s.queue),
		done: make(chan struct{}),
	}
	s.clients.Store(id, c)
	s.log.Info(ctx, "client connected",
		slog.String("client", id),
		slog.String("origin", r.Header.Get("Origin")),
		slog.String("remote", r.RemoteAddr),
	)

	go s.write(ctx, c)
	s.read(ctx, c)

	s.clients.LoadAndDelete(id)
	c.close()
	s.log.Info(ctx, "client disconnected", slog.String("client", id))
}

func (s *Server) write(ctx context.Context, c *client) {
	for {
		select {
		case <-c.done:
			return
		case line := <-c.send:
			if err := c.conn.WriteLine(ctx, line); err != nil {
				c.close()
				return
			}
		}
	}
}

// Forward client commands to the device until the client goes away. Anything
// that is not a device command is dropped.
func (s *Server) read(ctx context.Context, c *client) {
	for {
		line, err := c.conn.ReadLine(ctx)
		if err != nil {
			return
		}

		if _, err := protocol.DecodeCommand(line); err != nil {
			s.log.Warn(ctx, err, slog.String("client", c.id))
			continue
		}

		if err := s.forward(ctx, line); err != nil {
			s.log.Warn(ctx, err, slog.String("client", c.id))
		}
	}
}

func (s *Server) forward(ctx context.Context, line string) error {
	s.mu.RLock()
	dev := s.device
	s.mu.RUnlock()

	if dev == nil {
		return &errors.Error{
			Message: "device not connected",
			Kind:    errors.NotConnected,
		}
	}
	return dev.WriteLine(ctx, line)
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
