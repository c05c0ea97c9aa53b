package client

// State represents the current state of a connection.
type State int

const (
	// StateDisconnected means no connection is established or pending.
	StateDisconnected State = iota

	// StateConnecting means a handshake is in flight.
	StateConnecting

	// StateConnected means the connection is established and usable.
	StateConnected

	// StateReconnecting means a reconnect timer is pending after a failure.
	StateReconnecting
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
