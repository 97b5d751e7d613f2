// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/velopad/telemetry/errors"
	"github.com/velopad/telemetry/internal/log"
	"github.com/velopad/telemetry/protocol"
)

// Subprotocol is the WebSocket subprotocol spoken by the relay.
const Subprotocol = "velopad"

// WebSocketConn is a transport over an established WebSocket connection. Each
// text message carries one or more lines.
type WebSocketConn struct {
	conn  *websocket.Conn
	lines lineBuffer
	write sync.Mutex
	log   log.Logger
}

// WebSocket returns a provider that dials the relay at the given URL.
func WebSocket(url string, opt ...Option) Provider {
	var opts Options
	opts.Apply(opt)

	dialer := websocket.Dialer{
		Subprotocols:     []string{Subprotocol},
		HandshakeTimeout: 10 * time.Second,
	}

	return func(ctx context.Context) (Transport, error) {
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, &errors.Error{
				Message:       "could not connect to relay",
				Kind:          errors.TransportError,
				NestedError:   err,
				PropertyName:  "url",
				PropertyValue: url,
			}
		}
		ws := NewWebSocketConn(conn, WithLogger(opts.Logger))
		ws.log.Info(ctx, "connected to relay", slog.String("url", url))
		return ws, nil
	}
}

// NewWebSocketConn wraps an established connection, client or server side.
func NewWebSocketConn(conn *websocket.Conn, opt ...Option) *WebSocketConn {
	var opts Options
	opts.Apply(opt)
	return &WebSocketConn{conn: conn, log: log.Wrap(opts.Logger)}
}

// ReadLine returns the next line received from the peer.
func (w *WebSocketConn) ReadLine(ctx context.Context) (string, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = w.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		if line, ok := w.lines.next(); ok {
			return line, nil
		}

		typ, msg, err := w.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "", errors.Normalize(ctx.Err(), "read")
			}
			return "", normalizeWebSocket(err, "read")
		}
		if typ != websocket.TextMessage {
			continue
		}
		w.lines.writeMessage(msg)
	}
}

// WriteLine sends one line as a single text message.
func (w *WebSocketConn) WriteLine(ctx context.Context, line string) error {
	w.write.Lock()
	defer w.write.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = w.conn.SetWriteDeadline(deadline)
	} else {
		_ = w.conn.SetWriteDeadline(time.Time{})
	}

	err := w.conn.WriteMessage(
		websocket.TextMessage,
		[]byte(protocol.EnsureNewline(line)),
	)
	if err != nil {
		return normalizeWebSocket(err, "write")
	}
	return nil
}

// Close sends a close frame and closes the underlying connection.
func (w *WebSocketConn) Close() error {
	w.write.Lock()
	_ = w.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	w.write.Unlock()

	return w.conn.Close()
}

func normalizeWebSocket(err error, op string) error {
	if websocket.IsCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
	) {
		return &errors.Error{
			Message:     op + ": connection closed",
			Kind:        errors.TransportError,
			NestedError: err,
		}
	}
	return errors.Normalize(err, op)
}
