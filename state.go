package rs485

// ConnState represents the lifecycle stage of a connector's link.
type ConnState uint32

const (
	// DisconnectedState indicates that no link is open. A reconnect may be
	// scheduled.
	DisconnectedState ConnState = iota
	// ConnectingState indicates that a dial is in flight.
	ConnectingState
	// ConnectedState indicates that the link is open and requests are accepted.
	ConnectedState
	// ClosingState indicates that the connector is shutting down.
	ClosingState
)

// IsConnected returns if the link is ready for requests.
func (cs ConnState) IsConnected() bool { return cs == ConnectedState }

// String returns string representation of the state.
func (cs ConnState) String() string {
	switch cs {
	case DisconnectedState:
		return "disconnected"
	case ConnectingState:
		return "connecting"
	case ConnectedState:
		return "connected"
	case ClosingState:
		return "closing"
	default:
		return "unknown"
	}
}
