package evloop

// Idle is invoked on every iteration in which no other watcher of the same
// or higher priority is pending. While any idle watcher is active, the loop
// polls without blocking.
type Idle struct {
	watcher
	cb func(w *Idle, revents Event)
}

// NewIdle creates an inactive idle watcher.
func NewIdle(l *Loop, cb func(w *Idle, revents Event)) *Idle {
	w := &Idle{cb: cb}
	w.init(l, w, KindIdle, w.invoke)
	return w
}

func (w *Idle) invoke(revents Event) {
	if w.cb != nil {
		w.cb(w, revents)
	}
}

// SetCallback replaces the callback.
func (w *Idle) SetCallback(cb func(w *Idle, revents Event)) { w.cb = cb }

func (w *Idle) start() error {
	w.loop.idles[w.priority-MinPriority].add(&w.watcher)
	w.loop.idleAll++
	return nil
}

func (w *Idle) stop() {
	w.loop.idles[w.priority-MinPriority].remove(&w.watcher)
	w.loop.idleAll--
}

func (w *Idle) autoStop() bool { return false }

// Prepare is invoked at the start of every iteration, before the loop
// polls.
type Prepare struct {
	watcher
	cb func(w *Prepare, revents Event)
}

// NewPrepare creates an inactive prepare watcher.
func NewPrepare(l *Loop, cb func(w *Prepare, revents Event)) *Prepare {
	w := &Prepare{cb: cb}
	w.init(l, w, KindPrepare, w.invoke)
	return w
}

func (w *Prepare) invoke(revents Event) {
	if w.cb != nil {
		w.cb(w, revents)
	}
}

// SetCallback replaces the callback.
func (w *Prepare) SetCallback(cb func(w *Prepare, revents Event)) { w.cb = cb }

func (w *Prepare) start() error {
	w.loop.prepares.add(&w.watcher)
	return nil
}

func (w *Prepare) stop() { w.loop.prepares.remove(&w.watcher) }

func (w *Prepare) autoStop() bool { return false }

// Check is invoked on every iteration after the loop polls, before any
// other pending watcher.
type Check struct {
	watcher
	cb func(w *Check, revents Event)
}

// NewCheck creates an inactive check watcher.
func NewCheck(l *Loop, cb func(w *Check, revents Event)) *Check {
	w := &Check{cb: cb}
	w.init(l, w, KindCheck, w.invoke)
	return w
}

func (w *Check) invoke(revents Event) {
	if w.cb != nil {
		w.cb(w, revents)
	}
}

// SetCallback replaces the callback.
func (w *Check) SetCallback(cb func(w *Check, revents Event)) { w.cb = cb }

func (w *Check) start() error {
	w.loop.checks.add(&w.watcher)
	return nil
}

func (w *Check) stop() { w.loop.checks.remove(&w.watcher) }

func (w *Check) autoStop() bool { return false }

// Fork is invoked at the start of the first iteration after Loop.Fork.
type Fork struct {
	watcher
	cb func(w *Fork, revents Event)
}

// NewFork creates an inactive fork watcher.
func NewFork(l *Loop, cb func(w *Fork, revents Event)) *Fork {
	w := &Fork{cb: cb}
	w.init(l, w, KindFork, w.invoke)
	return w
}

func (w *Fork) invoke(revents Event) {
	if w.cb != nil {
		w.cb(w, revents)
	}
}

// SetCallback replaces the callback.
func (w *Fork) SetCallback(cb func(w *Fork, revents Event)) { w.cb = cb }

func (w *Fork) start() error {
	w.loop.forks.add(&w.watcher)
	return nil
}

func (w *Fork) stop() { w.loop.forks.remove(&w.watcher) }

func (w *Fork) autoStop() bool { return false }

// Cleanup is invoked when the loop is closed. Cleanup watchers neither keep
// Run from returning nor prevent Close.
type Cleanup struct {
	watcher
	cb func(w *Cleanup, revents Event)
}

// NewCleanup creates an inactive cleanup watcher.
func NewCleanup(l *Loop, cb func(w *Cleanup, revents Event)) *Cleanup {
	w := &Cleanup{cb: cb}
	w.init(l, w, KindCleanup, w.invoke)
	return w
}

func (w *Cleanup) invoke(revents Event) {
	if w.cb != nil {
		w.cb(w, revents)
	}
}

// SetCallback replaces the callback.
func (w *Cleanup) SetCallback(cb func(w *Cleanup, revents Event)) { w.cb = cb }

func (w *Cleanup) start() error {
	w.loop.cleanups.add(&w.watcher)
	return nil
}

func (w *Cleanup) stop() { w.loop.cleanups.remove(&w.watcher) }

func (w *Cleanup) autoStop() bool { return false }
