package evloop

import (
	"testing"
)

func TestFastState(t *testing.T) {
	s := NewFastState()
	if s.Load() != StateIdle {
		t.Fatalf("expected Idle, got %v", s.Load())
	}
	if !s.TryTransition(StateIdle, StateRunning) {
		t.Fatal("expected transition to succeed")
	}
	if s.TryTransition(StateIdle, StateRunning) {
		t.Fatal("expected transition to fail")
	}
	s.Store(StateClosed)
	if !s.IsClosed() {
		t.Fatal("expected closed")
	}
}

func TestLoopState_String(t *testing.T) {
	for s, want := range map[LoopState]string{
		StateIdle:     "Idle",
		StateRunning:  "Running",
		StateStopping: "Stopping",
		StateClosed:   "Closed",
		LoopState(42): "Unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}
