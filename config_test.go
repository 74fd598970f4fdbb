package rs485

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnectionConfigDefaults(t *testing.T) {
	cfg, err := NewConnectionConfig("192.168.1.20", 8899, 0x01)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.20:8899", cfg.Addr())
	assert.Equal(t, byte(0x01), cfg.Address())
	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout())
	assert.False(t, cfg.StrictChecksum())
	assert.False(t, cfg.ReconnectOnCleanClose())
	assert.NotNil(t, cfg.dial)
	assert.NotNil(t, cfg.clock)
	assert.NotNil(t, cfg.logger)
}

func TestNewConnectionConfigOptions(t *testing.T) {
	cfg, err := NewConnectionConfig("fan-bridge.local", 502, 0x05,
		WithDialTimeout(time.Second),
		WithWriteTimeout(0),
		WithStrictChecksum(true),
		WithReconnectOnCleanClose(true),
	)
	require.NoError(t, err)

	assert.Equal(t, "fan-bridge.local:502", cfg.Addr())
	assert.Equal(t, time.Second, cfg.DialTimeout())
	assert.Zero(t, cfg.writeTimeout)
	assert.True(t, cfg.StrictChecksum())
	assert.True(t, cfg.ReconnectOnCleanClose())
}

func TestNewConnectionConfigInvalid(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		opts     []ConnOption
		expected error
	}{
		{name: "empty host", host: "", port: 502, expected: ErrInvalidHost},
		{name: "host with port", host: "10.0.0.1:502", port: 502, expected: ErrInvalidHost},
		{name: "host with space", host: "fan bridge", port: 502, expected: ErrInvalidHost},
		{name: "zero port", host: "10.0.0.1", port: 0, expected: ErrInvalidPort},
		{name: "port too large", host: "10.0.0.1", port: 65536, expected: ErrInvalidPort},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewConnectionConfig(test.host, test.port, 0x01, test.opts...)
			assert.ErrorIs(t, err, test.expected)
		})
	}
}

func TestNewConnectionConfigInvalidOptions(t *testing.T) {
	opts := []ConnOption{
		WithLogger(nil),
		WithClock(nil),
		WithDialTimeout(0),
		WithWriteTimeout(-time.Second),
	}
	for _, opt := range opts {
		_, err := NewConnectionConfig("10.0.0.1", 502, 0x01, opt)
		assert.Error(t, err)
	}
}

func TestNewConnectionConfigCustomDialerSkipsAddressCheck(t *testing.T) {
	dial := func(context.Context) (io.ReadWriteCloser, error) { return newFakeLink(), nil }

	cfg, err := NewConnectionConfig("", 0, 0x01, WithDialer(dial))
	require.NoError(t, err)

	link, err := cfg.dial(context.Background())
	require.NoError(t, err)
	assert.NoError(t, link.Close())
}

func TestConnStateString(t *testing.T) {
	tests := map[ConnState]string{
		DisconnectedState: "disconnected",
		ConnectingState:   "connecting",
		ConnectedState:    "connected",
		ClosingState:      "closing",
		ConnState(42):     "unknown",
	}
	for state, expected := range tests {
		assert.Equal(t, expected, state.String())
		assert.Equal(t, state == ConnectedState, state.IsConnected())
	}
}

func TestNewConnectorWithConfigRequiresConstructedConfig(t *testing.T) {
	for _, cfg := range []*ConnectionConfig{nil, {}, {host: "10.0.0.1", port: 502}} {
		c, err := NewConnectorWithConfig(cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.Nil(t, c)
	}
}

func TestNewConnectionConfigDoesNotResolveHost(t *testing.T) {
	cfg, err := NewConnectionConfig("fan-bridge.invalid", 8899, 0x01)
	require.NoError(t, err)
	assert.Equal(t, "fan-bridge.invalid:8899", cfg.Addr())
}
