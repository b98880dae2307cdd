package session

// State represents the session lifecycle state.
type State string

const (
	// StateCreated is the state before the lifecycle goroutine runs.
	StateCreated State = "created"
	// StateConnecting means coordination server candidates are being tried.
	StateConnecting State = "connecting"
	// StateHandshakeOffered means a server answered and the host is deciding
	// whether to trust it.
	StateHandshakeOffered State = "handshake_offered"
	// StateRegistering means a virtual address is being negotiated and the
	// device acquired.
	StateRegistering State = "registering"
	// StateActive means the session is fully operational.
	StateActive State = "active"
	// StateStopping means resources are being released after a stop.
	StateStopping State = "stopping"
	// StateStopped means the session ended normally.
	StateStopped State = "stopped"
	// StateFailed means the session ended because of a fault or a rejection.
	StateFailed State = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// next lists the forward transitions; Stopping and Failed are reachable
// from every non-terminal state and handled in canTransition.
var next = map[State]State{
	StateCreated:          StateConnecting,
	StateConnecting:       StateHandshakeOffered,
	StateHandshakeOffered: StateRegistering,
	StateRegistering:      StateActive,
	StateStopping:         StateStopped,
}

func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StateFailed:
		return true
	case StateStopping:
		return from != StateStopping
	}
	return next[from] == to
}
