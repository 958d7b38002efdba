package engine

// Lifecycle is the coarse state of a store.
//
//	Created -> Started -> Running -> Closing -> Closed
//
// A store that is closed before it starts goes straight from Created to
// Closing. Transitions never go backwards.
type Lifecycle int32

const (
	LifecycleCreated Lifecycle = iota
	LifecycleStarted
	LifecycleRunning
	LifecycleClosing
	LifecycleClosed
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleCreated:
		return "created"
	case LifecycleStarted:
		return "started"
	case LifecycleRunning:
		return "running"
	case LifecycleClosing:
		return "closing"
	case LifecycleClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Accepting reports whether a store in this state takes new intents.
func (l Lifecycle) Accepting() bool {
	return l < LifecycleClosing
}
