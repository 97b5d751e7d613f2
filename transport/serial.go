// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package transport

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/velopad/telemetry/errors"
	"github.com/velopad/telemetry/internal/log"
	"github.com/velopad/telemetry/protocol"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

type (
	// SerialConfig selects and configures a serial port. When Port is empty
	// the first USB port whose vendor id matches VendorID is used.
	SerialConfig struct {
		Port     string
		BaudRate int
		VendorID string
	}

	// SerialConn is a transport over an open serial port.
	SerialConn struct {
		port  serial.Port
		name  string
		lines lineBuffer
		buf   []byte
		write sync.Mutex
		log   log.Logger
	}
)

const (
	// DefaultBaudRate is the controller's fixed line rate.
	DefaultBaudRate = 9600

	// DefaultVendorID is the USB vendor id of the controller board.
	DefaultVendorID = "2341"

	// Bound on how long a read blocks before checking for cancellation.
	serialPoll = 100 * time.Millisecond
)

// Serial returns a provider that opens the configured serial port.
func Serial(cfg SerialConfig, opt ...Option) Provider {
	var opts Options
	opts.Apply(opt)

	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.VendorID == "" {
		cfg.VendorID = DefaultVendorID
	}

	return func(ctx context.Context) (Transport, error) {
		logger := log.Wrap(opts.Logger)

		name := cfg.Port
		if name == "" {
			var err error
			if name, err = FindSerialPort(cfg.VendorID); err != nil {
				return nil, err
			}
			logger.Info(ctx, "controller found",
				slog.String("port", name),
				slog.String("vendor_id", cfg.VendorID),
			)
		}

		port, err := serial.Open(name, &serial.Mode{BaudRate: cfg.BaudRate})
		if err != nil {
			return nil, &errors.Error{
				Message:       "could not open serial port",
				Kind:          errors.TransportError,
				NestedError:   err,
				PropertyName:  "port",
				PropertyValue: name,
			}
		}
		if err := port.SetReadTimeout(serialPoll); err != nil {
			_ = port.Close()
			return nil, errors.Normalize(err, "configure serial port")
		}

		logger.Info(ctx, "serial port open",
			slog.String("port", name),
			slog.Int("baud_rate", cfg.BaudRate),
		)
		return &SerialConn{
			port: port,
			name: name,
			buf:  make([]byte, 256),
			log:  logger,
		}, nil
	}
}

// FindSerialPort returns the name of the first USB serial port with the
// given vendor id.
func FindSerialPort(vendorID string) (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", &errors.Error{
			Message:     "could not enumerate serial ports",
			Kind:        errors.TransportError,
			NestedError: err,
		}
	}

	for _, p := range ports {
		if p.IsUSB && strings.EqualFold(p.VID, vendorID) {
			return p.Name, nil
		}
	}
	return "", &errors.Error{
		Message:       "no serial port with a matching vendor id",
		Kind:          errors.TransportError,
		PropertyName:  "vendor_id",
		PropertyValue: vendorID,
	}
}

// Name returns the port name.
func (s *SerialConn) Name() string {
	return s.name
}

// ReadLine returns the next line received from the port.
func (s *SerialConn) ReadLine(ctx context.Context) (string, error) {
	for {
		if line, ok := s.lines.next(); ok {
			return line, nil
		}
		if err := ctx.Err(); err != nil {
			return "", errors.Normalize(err, "read")
		}

		// A timed out read returns no bytes and no error.
		n, err := s.port.Read(s.buf)
		if err != nil {
			return "", errors.Normalize(err, "read")
		}
		s.lines.write(s.buf[:n])
	}
}

// WriteLine writes one terminated line to the port.
func (s *SerialConn) WriteLine(_ context.Context, line string) error {
	s.write.Lock()
	defer s.write.Unlock()

	if _, err := s.port.Write([]byte(protocol.EnsureNewline(line))); err != nil {
		return errors.Normalize(err, "write")
	}
	return nil
}

// Close closes the port.
func (s *SerialConn) Close() error {
	return s.port.Close()
}
