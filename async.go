package evloop

import (
	"sync/atomic"
)

// Async wakes its loop from another goroutine.
//
// Send is the only operation in this package that may be called from any
// goroutine while the loop is running. Sends that happen before the loop
// observes the first are coalesced into a single invocation.
type Async struct {
	watcher
	cb   func(w *Async, revents Event)
	sent atomic.Bool
}

// NewAsync creates an inactive async watcher.
func NewAsync(l *Loop, cb func(w *Async, revents Event)) *Async {
	w := &Async{cb: cb}
	w.init(l, w, KindAsync, w.invoke)
	return w
}

func (w *Async) invoke(revents Event) {
	if w.cb != nil {
		w.cb(w, revents)
	}
}

// SetCallback replaces the callback.
func (w *Async) SetCallback(cb func(w *Async, revents Event)) { w.cb = cb }

// Send marks the watcher as signalled and wakes the loop. If the watcher is
// not active when the loop next checks, the send is retained until it is.
func (w *Async) Send() {
	w.sent.Store(true)
	w.loop.asyncPending.Store(true)
	w.loop.wakeup()
}

// Sent reports whether a send has not yet been observed by the loop.
func (w *Async) Sent() bool { return w.sent.Load() }

func (w *Async) start() error {
	w.loop.asyncs.add(&w.watcher)
	if w.sent.Load() {
		w.loop.asyncPending.Store(true)
	}
	return nil
}

func (w *Async) stop() { w.loop.asyncs.remove(&w.watcher) }

func (w *Async) autoStop() bool { return false }
