package rs485

import (
	"errors"
	"fmt"
)

var (
	// ErrAbandoned is returned by the blocking request API when a request was
	// dropped or abandoned before a response arrived: the link was not ready,
	// the pending table was cleared by a disconnect, or a newer request
	// evicted it as stale.
	ErrAbandoned = errors.New("rs485: request abandoned")
	// ErrClosed is returned once the connector has been closed.
	ErrClosed = errors.New("rs485: connector closed")
	// ErrInvalidHost reports a host that is empty or contains a port, path or
	// whitespace. The host is not resolved.
	ErrInvalidHost = errors.New("rs485: invalid host")
	// ErrInvalidPort reports a port outside [1, 65535].
	ErrInvalidPort = errors.New("rs485: invalid port")
	// ErrInvalidConfig reports a ConnectionConfig not created by
	// NewConnectionConfig.
	ErrInvalidConfig = errors.New("rs485: invalid connection config")
)

// ShortResponseError is returned when a reply is too short to carry the
// expected data.
type ShortResponseError struct {
	Length int
	Want   int
}

// Error implements the error interface.
func (e *ShortResponseError) Error() string {
	return fmt.Sprintf("rs485: response length '%v' is shorter than '%v'", e.Length, e.Want)
}
