package session

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	// StateError is terminal.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
