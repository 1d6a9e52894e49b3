// Package evloop provides a single-goroutine reactor in the style of libev,
// multiplexing descriptor readiness, timers, wall clock schedules, signals,
// child process status changes, file attribute changes and cross-goroutine
// wakeups, and dispatching their callbacks in a deterministic,
// priority-ordered fashion.
//
// # Watchers
//
// Interest in an event source is represented by a watcher, bound to a
// [Loop] on creation. The set of variants is closed, and each carries a
// strongly typed callback, receiving the watcher and the observed [Event]
// mask:
//   - [IO]: descriptor readiness
//   - [Timer]: relative timeouts, optionally repeating without drift
//   - [Periodic]: absolute wall clock schedules
//   - [Signal]: OS signal delivery
//   - [Child]: child process status changes (default loop only)
//   - [Stat]: file attribute changes, by polling
//   - [Idle], [Prepare], [Check]: loop phase hooks
//   - [Fork], [Cleanup]: loop lifecycle hooks
//   - [Async]: wakeups from other goroutines
//   - [Embed]: driving another loop from within this one
//
// Watchers are created inactive. Start registers the event source, and Stop
// (idempotent) unregisters it, also cancelling any pending invocation.
// Parameters and priority may only be changed while inactive.
//
// # Iterations
//
// Each iteration of [Loop.Run] dispatches Prepare watchers, polls the
// backend (without blocking if Idle watchers are active or work is already
// pending), collects expired timers and periodics, ready descriptors,
// signals, child status changes and async sends, then dispatches Check
// watchers, followed by every other pending watcher. Dispatch is strictly by
// descending priority ([MaxPriority] first), and FIFO within a priority.
//
// # Thread Safety
//
// A loop is driven by one goroutine at a time. Watchers and the loop may
// only be mutated by the goroutine running the loop, or by any single
// goroutine while it is not running; violations fail with
// [ErrConcurrentAccess]. The exceptions are [Async.Send], [Loop.Break] and
// [Loop.Stop].
//
// # Errors
//
// Usage errors are returned as [*UsageError], matching the sentinel errors
// with [errors.Is]. Panics in callbacks are recovered as [*CallbackError],
// and either passed to the hook set via [SetCallbackErrorHook], or returned
// by Run after the iteration completes. Fatal backend conditions stop the
// loop, and are returned by Run as [*BackendError].
//
// # Usage
//
//	loop, err := evloop.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loop.Close()
//
//	timer := evloop.NewTimer(loop, time.Second, time.Second, func(w *evloop.Timer, revents evloop.Event) {
//	    fmt.Println("tick")
//	})
//	if err := timer.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := loop.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package evloop
