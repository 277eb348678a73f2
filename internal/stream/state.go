package stream

// State is the lifecycle state of a session or of one of its channels.
type State int

const (
	Connecting   State = iota
	Streaming          // at least one message path is open
	Disconnected       // open failed or the peer closed; no automatic reconnect
	Closed             // torn down by the caller
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Disconnected:
		return "disconnected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
