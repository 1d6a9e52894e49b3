package evloop

import (
	"sync/atomic"
)

// LoopState represents the run state of a loop.
//
// State Machine:
//
//	StateIdle → StateRunning        [Run(), CAS]
//	StateRunning → StateStopping    [Stop()/Break(), observed at the next iteration boundary]
//	StateStopping → StateRunning    [an outer nested Run() continues after BreakOne]
//	StateRunning → StateIdle        [outermost Run() returns]
//	StateIdle → StateClosed         [Close()]
//	StateClosed → (terminal)
//
// Only the Idle, Running and Closed values are stored. Stopping is derived
// from a pending break request by [Loop.State].
type LoopState uint64

const (
	// StateIdle indicates the loop is not being driven.
	StateIdle LoopState = 0
	// StateRunning indicates a goroutine is inside Run.
	StateRunning LoopState = 1
	// StateStopping indicates a break was requested but not yet observed.
	StateStopping LoopState = 2
	// StateClosed indicates the loop has been destroyed.
	StateClosed LoopState = 3
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// FastState is a lock-free state cell with cache-line padding.
//
// It arbitrates which goroutine owns a loop: the CAS from Idle to Running is
// the only way to start driving it.
type FastState struct { // betteralign:ignore
	_ [64]byte      // Cache line padding (before value) //nolint:unused
	v atomic.Uint64 // State value
	_ [56]byte      // Pad to complete cache line (64 - 8 = 56) //nolint:unused
}

// NewFastState creates a new state cell in the Idle state.
func NewFastState() *FastState {
	s := &FastState{}
	s.v.Store(uint64(StateIdle))
	return s
}

// Load returns the current state atomically.
func (s *FastState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store atomically stores a new state. Only use for irreversible states.
func (s *FastState) Store(state LoopState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
// Returns true if the transition was successful.
func (s *FastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// IsClosed returns true if the state is terminal.
func (s *FastState) IsClosed() bool {
	return s.Load() == StateClosed
}
