package population

// State is a phase of a population run.
type State int32

const (
	StateIdle State = iota
	StateInitializing
	StatePaused
	StateInserting
	StateMonitoring
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StatePaused:
		return "paused"
	case StateInserting:
		return "inserting"
	case StateMonitoring:
		return "monitoring"
	default:
		return "idle"
	}
}
