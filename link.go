package rs485

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/grid-x/serial"
)

const tcpKeepAlive = 30 * time.Second

// DialFunc opens a byte link to the device.
type DialFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// TCPDialer returns a DialFunc opening a raw TCP stream to address.
func TCPDialer(address string, timeout time.Duration) DialFunc {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		dialer := net.Dialer{Timeout: timeout, KeepAlive: tcpKeepAlive}
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// SerialDialer returns a DialFunc opening a local serial port, for devices
// wired to the host directly instead of through a TCP bridge.
func SerialDialer(cfg serial.Config) DialFunc {
	return func(context.Context) (io.ReadWriteCloser, error) {
		port, err := serial.Open(&cfg)
		if err != nil {
			return nil, fmt.Errorf("rs485: could not open %s: %w", cfg.Address, err)
		}
		return port, nil
	}
}

// isReadTimeout reports read errors that leave the link usable.
func isReadTimeout(err error) bool {
	if errors.Is(err, serial.ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isCleanClose reports whether err is the peer closing without an error.
func isCleanClose(err error) bool {
	return errors.Is(err, io.EOF)
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// writeFrame writes frame to link, bounded by timeout when the link supports
// deadlines. Deadlines use the wall clock.
func writeFrame(link io.Writer, frame []byte, timeout time.Duration) error {
	if d, ok := link.(writeDeadliner); ok && timeout > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	_, err := link.Write(frame)
	return err
}
