package evloop

import (
	"time"
)

// Backend multiplexes descriptor readiness for a Loop.
//
// A Backend is only ever used from the goroutine driving its loop, and
// need not be safe for concurrent use.
type Backend interface {
	// Name identifies the mechanism, e.g. "epoll".
	Name() string
	// Add registers interest in events (EventRead and/or EventWrite) on fd.
	Add(fd int, events Event) error
	// Modify replaces the registered interest for fd.
	Modify(fd int, events Event) error
	// Remove unregisters fd. Removing an fd that is no longer open must not
	// fail.
	Remove(fd int) error
	// Wait blocks for up to timeout (forever if negative), calling ready
	// for each descriptor reported ready. It returns ErrInterrupted (or an
	// error wrapping it) if the wait was interrupted before any descriptor
	// became ready.
	Wait(timeout time.Duration, ready func(fd int, events Event)) error
	// FD returns a descriptor that becomes readable when Wait would report
	// readiness, or -1 if there is none. It is used to embed one loop into
	// another.
	FD() int
	// Close releases the backend.
	Close() error
}

// timeoutMillis converts a Wait timeout to the millisecond form used by the
// poll syscalls, rounding up so that a short positive timeout never becomes a
// busy poll.
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := timeout / time.Millisecond
	if timeout%time.Millisecond != 0 {
		ms++
	}
	if ms > maxBlockTime/time.Millisecond {
		ms = maxBlockTime / time.Millisecond
	}
	return int(ms)
}
