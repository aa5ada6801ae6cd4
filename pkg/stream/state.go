package stream

// State is the lifecycle phase of a media stream session.
type State int

const (
	StateCreated State = iota
	StateActive
	StateStopping
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateActive:
		return "ACTIVE"
	case StateStopping:
		return "STOPPING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// transitionValid checks whether moving from one lifecycle state to another
// is allowed.
func transitionValid(from, to State) bool {
	validTransitions := map[State][]State{
		StateCreated:  {StateActive, StateClosed},
		StateActive:   {StateStopping, StateClosed},
		StateStopping: {StateClosed},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports an attempt to move a session through a
// lifecycle edge that does not exist.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid session transition from " + e.From.String() + " to " + e.To.String()
}
