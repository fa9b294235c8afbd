package session

// State is the orchestrator lifecycle state.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateReady
	StateStreaming
	StateStopping
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
