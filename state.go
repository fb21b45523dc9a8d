package localloop

import (
	"sync/atomic"
)

// runState tracks where the loop is in its lifecycle.
//
// State machine:
//
//	stateIdle → stateRunning          [RunUntil / RunAll]
//	stateRunning → stateSleeping      [blocking reactor poll, via CAS]
//	stateSleeping → stateRunning      [poll returned, via CAS]
//	stateRunning → stateIdle          [root completed; runtime is reusable]
//	any → stateTerminated             [Close]
//
// Temporary states (running, sleeping) are entered with tryTransition
// (CAS); stateTerminated is stored unconditionally. The sleeping state is
// what external wakers observe to decide whether the wake pipe must be
// written.
type loopState uint32

const (
	// stateIdle indicates no loop invocation is in progress.
	stateIdle loopState = iota
	// stateRunning indicates the loop is actively draining tasks.
	stateRunning
	// stateSleeping indicates the loop is blocked in the reactor poll.
	stateSleeping
	// stateTerminated indicates the runtime has been closed.
	stateTerminated
)

// String returns a human-readable representation of the state.
func (s loopState) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateRunning:
		return "Running"
	case stateSleeping:
		return "Sleeping"
	case stateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// runState is a lock-free state holder. It is the only piece of loop state
// shared with foreign goroutines (via Waker and Close), hence atomic.
type runState struct {
	v atomic.Uint32
}

func (s *runState) load() loopState {
	return loopState(s.v.Load())
}

func (s *runState) store(state loopState) {
	s.v.Store(uint32(state))
}

// tryTransition attempts to atomically move from one state to another,
// reporting whether it succeeded.
func (s *runState) tryTransition(from, to loopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
