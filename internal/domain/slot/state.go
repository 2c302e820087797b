package slot

// State represents the slot lifecycle state.
type State int

const (
	StateRequested State = iota // Created, admission not decided yet
	StateWaiting                // Buffered in the waiting queue
	StateActive                 // Granted, counts against capacity
	StateReleased               // Released by its owner (terminal)
	StateFailed                 // Token fetch failed or wait expired (terminal)
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateReleased:
		return "released"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateReleased || s == StateFailed
}

// CanTransition reports whether moving from s to next is allowed.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateRequested:
		return next == StateActive || next == StateWaiting || next == StateFailed
	case StateWaiting:
		return next == StateActive || next == StateFailed
	case StateActive:
		return next == StateReleased || next == StateFailed
	default:
		return false
	}
}
