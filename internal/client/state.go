package client

// State is the position of the client's connection state machine.
type State int

const (
	// StateWaitingForConfig is the state before Run starts.
	StateWaitingForConfig State = iota
	// StateAwaitingDial means Run is waiting for the first Configure.
	StateAwaitingDial
	// StateDisconnected means the client is dialing, handshaking or
	// waiting to retry.
	StateDisconnected
	// StateConnected means a session is live.
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateWaitingForConfig:
		return "waiting-for-config"
	case StateAwaitingDial:
		return "awaiting-dial"
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
