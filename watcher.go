package evloop

// Watcher is the behaviour shared by every watcher variant.
//
// Watchers are created inactive, bound to a loop. Apart from [Async.Send],
// every method must be called from the goroutine driving the loop, or while
// the loop is not running; violations fail with ErrConcurrentAccess.
type Watcher interface {
	// Loop returns the loop the watcher is bound to.
	Loop() *Loop
	// Kind identifies the variant.
	Kind() Kind
	// Start activates the watcher. It fails with ErrInvalidState if the
	// watcher is already active.
	Start() error
	// Stop deactivates the watcher, cancelling any pending invocation. It
	// is a no-op for an inactive watcher.
	Stop() error
	// Close stops the watcher and detaches it from its loop permanently.
	Close() error
	// Active reports whether the watcher is started.
	Active() bool
	// Pending reports whether an invocation is queued.
	Pending() bool
	// Priority returns the dispatch priority.
	Priority() int
	// SetPriority changes the dispatch priority, clamped to
	// [MinPriority, MaxPriority]. It fails with ErrInvalidState while the
	// watcher is active or pending.
	SetPriority(priority int) error
	// Data returns the user data slot.
	Data() any
	// SetData sets the user data slot.
	SetData(data any)
	// Invoke calls the callback directly, as if revents had occurred.
	// Panics are not recovered.
	Invoke(revents Event)
	// FeedEvent queues the watcher for dispatch, as if revents had occurred.
	// The watcher must be active.
	FeedEvent(revents Event) error
	// ClearPending cancels a queued invocation, returning its events, or
	// EventNone if there was none.
	ClearPending() Event

	base() *watcher
}

// variant is implemented by each watcher type, providing registration with
// the loop.
type variant interface {
	Watcher
	// start registers the event source. The base handles state checks.
	start() error
	// stop unregisters the event source.
	stop()
	// autoStop reports whether the watcher must be stopped before its
	// callback is invoked, i.e. whether it will not fire again.
	autoStop() bool
}

// watcher is the state common to every variant.
type watcher struct {
	loop     *Loop
	self     variant
	call     func(revents Event)
	data     any
	pending  *pendingEntry
	listIdx  int // position in the loop's list for this kind, -1 if none
	priority int
	kind     Kind
	active   bool
	closed   bool
	// internal watchers serve the loop itself, and neither keep it alive
	// nor count as registered
	internal bool
}

func (w *watcher) init(l *Loop, self variant, kind Kind, call func(Event)) {
	w.loop = l
	w.self = self
	w.kind = kind
	w.call = call
	w.listIdx = -1
}

func (w *watcher) base() *watcher { return w }

// Loop returns the loop the watcher is bound to.
func (w *watcher) Loop() *Loop { return w.loop }

// Kind identifies the variant.
func (w *watcher) Kind() Kind { return w.kind }

// Active reports whether the watcher is started.
func (w *watcher) Active() bool { return w.active }

// Pending reports whether an invocation is queued.
func (w *watcher) Pending() bool { return w.pending != nil }

// Priority returns the dispatch priority.
func (w *watcher) Priority() int { return w.priority }

// Data returns the user data slot.
func (w *watcher) Data() any { return w.data }

// SetData sets the user data slot.
func (w *watcher) SetData(data any) { w.data = data }

// SetPriority changes the dispatch priority.
func (w *watcher) SetPriority(priority int) error {
	if err := w.loop.checkOwner("SetPriority"); err != nil {
		return err
	}
	if w.active || w.pending != nil {
		return usageError("SetPriority", ErrInvalidState)
	}
	w.priority = clampPriority(priority)
	return nil
}

// Start activates the watcher.
func (w *watcher) Start() error {
	if err := w.loop.checkOwner("Start"); err != nil {
		return err
	}
	switch {
	case w.closed:
		return usageError("Start", ErrWatcherClosed)
	case w.loop.state.IsClosed():
		return usageError("Start", ErrLoopClosed)
	case w.active:
		return usageError("Start", ErrInvalidState)
	}
	if err := w.self.start(); err != nil {
		return err
	}
	w.loop.activate(w)
	return nil
}

// Stop deactivates the watcher.
func (w *watcher) Stop() error {
	if err := w.loop.checkOwner("Stop"); err != nil {
		return err
	}
	w.halt()
	return nil
}

// halt is Stop without the ownership check.
func (w *watcher) halt() {
	if w.pending != nil {
		w.pending.cancel()
	}
	if !w.active {
		return
	}
	w.self.stop()
	w.loop.deactivate(w)
}

// Close stops the watcher and detaches it from its loop.
func (w *watcher) Close() error {
	if err := w.Stop(); err != nil {
		return err
	}
	w.closed = true
	return nil
}

// Invoke calls the callback directly.
func (w *watcher) Invoke(revents Event) {
	w.call(revents)
}

// FeedEvent queues the watcher for dispatch.
func (w *watcher) FeedEvent(revents Event) error {
	if err := w.loop.checkOwner("FeedEvent"); err != nil {
		return err
	}
	if !w.active {
		return usageError("FeedEvent", ErrInvalidState)
	}
	w.loop.feed(w, revents)
	return nil
}

// ClearPending cancels a queued invocation.
func (w *watcher) ClearPending() Event {
	if w.pending == nil {
		return EventNone
	}
	return w.pending.cancel()
}

// checkInactive guards variant parameter setters.
func (w *watcher) checkInactive(op string) error {
	if err := w.loop.checkOwner(op); err != nil {
		return err
	}
	if w.active {
		return usageError(op, ErrInvalidState)
	}
	return nil
}

// watcherList is an unordered set of watchers supporting O(1) removal,
// using each watcher's listIdx.
type watcherList []*watcher

func (x *watcherList) add(w *watcher) {
	w.listIdx = len(*x)
	*x = append(*x, w)
}

func (x *watcherList) remove(w *watcher) {
	s := *x
	i := w.listIdx
	if i < 0 || i >= len(s) || s[i] != w {
		return
	}
	last := len(s) - 1
	s[i] = s[last]
	s[i].listIdx = i
	s[last] = nil
	*x = s[:last]
	w.listIdx = -1
}
