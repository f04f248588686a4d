package agent

// State is the loop position, reported in Status.
type State int

const (
	StateIdle State = iota
	StateObserving
	StateReasoning
	StateActing
	StateSleeping
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateObserving:
		return "observing"
	case StateReasoning:
		return "reasoning"
	case StateActing:
		return "acting"
	case StateSleeping:
		return "sleeping"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Outcome of one cycle.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)
