package session

// State is the lifecycle position of a voice session.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateClosed     State = "closed"
)

// transitions lists the legal forward edges. Closed is reachable from every
// state and terminal, handled separately.
var transitions = map[State][]State{
	StateIdle:       {StateConnecting},
	StateConnecting: {StateConnected},
	StateConnected:  {StateListening},
	StateListening:  {StateProcessing},
	StateProcessing: {StateConnected},
}

// canTransition reports whether from -> to is a legal edge.
func canTransition(from, to State) bool {
	if from == StateClosed {
		return false
	}
	if to == StateClosed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
