// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package rs485

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/grid-x/serial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanbridge/rs485/logger"
)

// serveDevice answers every read request with the register number as the
// value and acknowledges every write, prefixing replies with noise.
func serveDevice(t *testing.T, conn net.Conn, address byte) {
	t.Helper()
	defer conn.Close()

	buf := make([]byte, maxChunkSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		frame := buf[:n]
		if !VerifyFrame(frame) || frame[0] != address {
			t.Errorf("device received bad frame % x", frame)
			return
		}

		var reply []byte
		switch frame[1] {
		case CommandReadRegister:
			reply = BuildFrame(address, CommandReadRegister, []byte{0x02, 0x00, frame[3]})
		case CommandWriteRegister:
			reply = BuildFrame(address, CommandWriteRegister, frame[2:6])
		}
		if _, err := conn.Write(append([]byte{0x00, 0x00}, reply...)); err != nil {
			return
		}
	}
}

func TestTCPRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			t.Error(err)
			return
		}
		serveDevice(t, conn, 0x01)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	c, err := NewConnector("127.0.0.1", addr.Port, 0x01,
		WithLogger(logger.NewSlog(io.Discard, logger.DebugLevel, false)))
	require.NoError(t, err)
	defer c.Close()

	require.Eventually(t, func() bool { return c.State().IsConnected() }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	v, err := c.ReadRegister(ctx, 0x03)
	require.NoError(t, err)
	assert.Equal(t, byte(0x03), v)

	// the slot of the read stays occupied for the grace period
	require.NoError(t, c.WriteRegister(ctx, 0x01, 0x00))
}

func TestTCPDialerRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = TCPDialer(addr, time.Second)(context.Background())
	assert.Error(t, err)
}

func TestSerialDialerMissingPort(t *testing.T) {
	dial := SerialDialer(serial.Config{
		Address:  "/dev/rs485-does-not-exist",
		BaudRate: 9600,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
	})
	_, err := dial(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/rs485-does-not-exist")
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestReadErrorClassification(t *testing.T) {
	assert.True(t, isReadTimeout(serial.ErrTimeout))
	assert.True(t, isReadTimeout(timeoutError{}))
	assert.True(t, isReadTimeout(os.ErrDeadlineExceeded))
	assert.False(t, isReadTimeout(io.EOF))
	assert.False(t, isReadTimeout(errors.New("connection reset by peer")))

	assert.True(t, isCleanClose(io.EOF))
	assert.False(t, isCleanClose(net.ErrClosed))
}

type deadlineBuffer struct {
	bytes.Buffer
	deadline time.Time
}

func (b *deadlineBuffer) SetWriteDeadline(t time.Time) error {
	b.deadline = t
	return nil
}

func TestWriteFrame(t *testing.T) {
	frame := BuildFrame(0x01, CommandReadRegister, readPayload(0x01))

	var plain bytes.Buffer
	require.NoError(t, writeFrame(&plain, frame, time.Second))
	assert.Equal(t, frame, plain.Bytes())

	var b deadlineBuffer
	require.NoError(t, writeFrame(&b, frame, time.Second))
	assert.Equal(t, frame, b.Bytes())
	assert.False(t, b.deadline.IsZero())

	var nodeadline deadlineBuffer
	require.NoError(t, writeFrame(&nodeadline, frame, 0))
	assert.True(t, nodeadline.deadline.IsZero())
}
