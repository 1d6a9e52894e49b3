package evloop

import (
	"errors"
	"fmt"
)

// Usage errors. These are always returned wrapped in a [*UsageError], and
// may be matched using [errors.Is].
var (
	// ErrInvalidState is returned for an illegal watcher or loop state
	// transition, e.g. starting an active watcher, or changing the
	// parameters of an active watcher.
	ErrInvalidState = errors.New("evloop: invalid state")

	// ErrInvalidArgument is returned when a constructor or setter receives
	// a value outside its domain.
	ErrInvalidArgument = errors.New("evloop: invalid argument")

	// ErrConcurrentAccess is returned when a loop, or one of its watchers,
	// is driven or mutated from a goroutine other than the one running it.
	ErrConcurrentAccess = errors.New("evloop: concurrent access from another goroutine")

	// ErrLoopBusy is returned by Loop.Close while watchers remain active.
	ErrLoopBusy = errors.New("evloop: loop has active watchers")

	// ErrLoopClosed is returned when operating on a closed loop.
	ErrLoopClosed = errors.New("evloop: loop is closed")

	// ErrWatcherClosed is returned when starting a closed watcher.
	ErrWatcherClosed = errors.New("evloop: watcher is closed")

	// ErrSignalInUse is returned when a signal is already being watched by
	// a different loop.
	ErrSignalInUse = errors.New("evloop: signal is watched by another loop")

	// ErrNotDefaultLoop is returned when starting a Child watcher on a loop
	// other than the default loop.
	ErrNotDefaultLoop = errors.New("evloop: child watchers require the default loop")

	// ErrEmbedSelf is returned when a loop is embedded into itself.
	ErrEmbedSelf = errors.New("evloop: cannot embed a loop into itself")

	// ErrBackendUnsupported is returned when no readiness backend is
	// available for the current platform.
	ErrBackendUnsupported = errors.New("evloop: no readiness backend for this platform")

	// ErrInterrupted may be returned by a [Backend] to indicate a transient
	// interruption. The loop retries the wait without surfacing it.
	ErrInterrupted = errors.New("evloop: poll interrupted")
)

// UsageError reports an API misuse, naming the operation that failed.
type UsageError struct {
	Err error
	Op  string
}

// Error implements the error interface.
func (e *UsageError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + " (" + e.Op + ")"
}

// Unwrap returns the underlying sentinel for use with [errors.Is].
func (e *UsageError) Unwrap() error {
	return e.Err
}

func usageError(op string, err error) error {
	return &UsageError{Op: op, Err: err}
}

// CallbackError wraps a panic recovered from a watcher callback.
//
// If the callback panicked with an error value, it is reachable through
// [errors.Is] and [errors.As]:
//
//	w.SetCallback(func(w *evloop.Timer, revents evloop.Event) {
//	    panic(io.ErrUnexpectedEOF)
//	})
//	// ... later, the error returned by Run satisfies
//	// errors.Is(err, io.ErrUnexpectedEOF)
type CallbackError struct {
	// Watcher is the watcher whose callback panicked.
	Watcher Watcher
	// Value is the recovered panic value.
	Value any
	// Stack is the stack trace captured at recovery.
	Stack []byte
	// Events is the mask the callback was invoked with.
	Events Event
}

// Error implements the error interface.
func (e *CallbackError) Error() string {
	kind := "watcher"
	if e.Watcher != nil {
		kind = e.Watcher.Kind().String()
	}
	return fmt.Sprintf("evloop: %s callback panicked (%s): %v", kind, e.Events, e.Value)
}

// Unwrap returns the panic value if it is an error, otherwise nil.
func (e *CallbackError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// BackendError reports a fatal condition raised by the readiness backend,
// e.g. an IO watcher referencing an invalid descriptor. The loop stops and
// the error is returned by Run.
type BackendError struct {
	Err error
	Op  string
	FD  int
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.FD >= 0 {
		return fmt.Sprintf("evloop: backend %s fd %d: %v", e.Op, e.FD, e.Err)
	}
	return fmt.Sprintf("evloop: backend %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *BackendError) Unwrap() error {
	return e.Err
}
