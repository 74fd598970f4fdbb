package rs485

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fanbridge/rs485/logger"
)

const (
	// DefaultDialTimeout bounds a single connection attempt.
	DefaultDialTimeout = 5 * time.Second
	// DefaultWriteTimeout bounds a single frame write on links with deadlines.
	DefaultWriteTimeout = 2 * time.Second
)

// ConnectionConfig holds the configuration of a Connector.
type ConnectionConfig struct {
	host    string
	port    int
	address byte

	dial         DialFunc
	dialTimeout  time.Duration
	writeTimeout time.Duration

	strictChecksum        bool
	reconnectOnCleanClose bool

	clock      clockwork.Clock
	logger     logger.Logger
	registerer prometheus.Registerer
}

// NewConnectionConfig creates a configuration for the device at address
// reachable on host:port. opts are applied in order.
//
// Host and port are only validated when no custom dialer is supplied.
func NewConnectionConfig(host string, port int, address byte, opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		host:         host,
		port:         port,
		address:      address,
		dialTimeout:  DefaultDialTimeout,
		writeTimeout: DefaultWriteTimeout,
		clock:        clockwork.NewRealClock(),
		logger:       logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.dial == nil {
		if err := validateHost(host); err != nil {
			return nil, err
		}
		if port <= 0 || port > 65535 {
			return nil, fmt.Errorf("%w: %d out of range [1, 65535]", ErrInvalidPort, port)
		}
		cfg.dial = TCPDialer(cfg.Addr(), cfg.dialTimeout)
	}

	return cfg, nil
}

func validateHost(host string) error {
	if net.ParseIP(host) != nil {
		return nil
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" || strings.ContainsAny(host, " :/") {
		return fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}
	return nil
}

// Addr returns "host:port".
func (cfg *ConnectionConfig) Addr() string {
	return net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port))
}

// Address returns the device address.
func (cfg *ConnectionConfig) Address() byte { return cfg.address }

// DialTimeout returns the timeout of one connection attempt.
func (cfg *ConnectionConfig) DialTimeout() time.Duration { return cfg.dialTimeout }

// StrictChecksum returns whether inbound frames must carry a valid CRC.
func (cfg *ConnectionConfig) StrictChecksum() bool { return cfg.strictChecksum }

// ReconnectOnCleanClose returns whether a close without error reconnects.
func (cfg *ConnectionConfig) ReconnectOnCleanClose() bool { return cfg.reconnectOnCleanClose }

// ConnOption configures a ConnectionConfig.
type ConnOption interface {
	apply(cfg *ConnectionConfig) error
}

type connOptFunc func(cfg *ConnectionConfig) error

func (f connOptFunc) apply(cfg *ConnectionConfig) error { return f(cfg) }

// WithLogger sets the logger. The connector adds the device address to it.
func WithLogger(l logger.Logger) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if l == nil {
			return fmt.Errorf("rs485: logger is nil")
		}
		cfg.logger = l
		return nil
	})
}

// WithClock replaces the wall clock driving staleness, grace, retry,
// reconnect and heartbeat timers.
func WithClock(clock clockwork.Clock) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if clock == nil {
			return fmt.Errorf("rs485: clock is nil")
		}
		cfg.clock = clock
		return nil
	})
}

// WithDialer replaces the TCP dialer, e.g. with SerialDialer.
func WithDialer(dial DialFunc) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		cfg.dial = dial
		return nil
	})
}

// WithDialTimeout sets the timeout of one connection attempt.
func WithDialTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d <= 0 {
			return fmt.Errorf("rs485: dial timeout %v must be positive", d)
		}
		cfg.dialTimeout = d
		return nil
	})
}

// WithWriteTimeout sets the write deadline of a frame. Zero disables it.
func WithWriteTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < 0 {
			return fmt.Errorf("rs485: write timeout %v must not be negative", d)
		}
		cfg.writeTimeout = d
		return nil
	})
}

// WithStrictChecksum drops inbound data whose CRC trailer does not match.
func WithStrictChecksum(enabled bool) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		cfg.strictChecksum = enabled
		return nil
	})
}

// WithReconnectOnCleanClose makes a close without error reconnect like a
// transport error does. By default a clean close only disconnects.
func WithReconnectOnCleanClose(enabled bool) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		cfg.reconnectOnCleanClose = enabled
		return nil
	})
}

// WithMetrics registers the connector metrics on reg.
func WithMetrics(reg prometheus.Registerer) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		cfg.registerer = reg
		return nil
	})
}
