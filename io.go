package evloop

// fdState tracks the IO watchers of one descriptor, and the interest last
// registered with the backend.
type fdState struct {
	watchers   []*IO
	registered Event
	dirty      bool
}

// IO watches a file descriptor for readiness.
//
// Several IO watchers may watch the same descriptor. The watcher must be
// stopped before the descriptor is closed.
type IO struct {
	watcher
	cb     func(w *IO, revents Event)
	fd     int
	events Event
}

// NewIO creates an inactive IO watcher. events must be a non-empty
// combination of EventRead and EventWrite.
func NewIO(l *Loop, fd int, events Event, cb func(w *IO, revents Event)) (*IO, error) {
	if err := validateIO(fd, events); err != nil {
		return nil, usageError("NewIO", err)
	}
	w := &IO{cb: cb, fd: fd, events: events}
	w.init(l, w, KindIO, w.invoke)
	return w, nil
}

func validateIO(fd int, events Event) error {
	if fd < 0 || events&^(EventRead|EventWrite) != 0 || events == EventNone {
		return ErrInvalidArgument
	}
	return nil
}

func (w *IO) invoke(revents Event) {
	if w.cb != nil {
		w.cb(w, revents)
	}
}

// SetCallback replaces the callback.
func (w *IO) SetCallback(cb func(w *IO, revents Event)) { w.cb = cb }

// Set changes the descriptor and interest. The watcher must be inactive.
func (w *IO) Set(fd int, events Event) error {
	if err := w.checkInactive("IO.Set"); err != nil {
		return err
	}
	if err := validateIO(fd, events); err != nil {
		return usageError("IO.Set", err)
	}
	w.fd, w.events = fd, events
	return nil
}

// FD returns the watched descriptor.
func (w *IO) FD() int { return w.fd }

// Events returns the interest mask.
func (w *IO) Events() Event { return w.events }

func (w *IO) start() error {
	l := w.loop
	st := l.fds[w.fd]
	if st == nil {
		st = &fdState{}
		l.fds[w.fd] = st
	}
	st.watchers = append(st.watchers, w)
	l.markFD(w.fd, st)
	return nil
}

func (w *IO) stop() {
	l := w.loop
	st := l.fds[w.fd]
	if st == nil {
		return
	}
	for i, other := range st.watchers {
		if other == w {
			st.watchers = append(st.watchers[:i], st.watchers[i+1:]...)
			break
		}
	}
	l.markFD(w.fd, st)
}

func (w *IO) autoStop() bool { return false }

// markFD queues fd for reification before the next poll.
func (l *Loop) markFD(fd int, st *fdState) {
	if st.dirty {
		return
	}
	st.dirty = true
	l.fdChanges = append(l.fdChanges, fd)
}

// reifyFDs pushes interest changes to the backend. A failed descriptor
// remains queued, so the error recurs until its watchers are stopped.
func (l *Loop) reifyFDs() error {
	if len(l.fdChanges) == 0 {
		return nil
	}
	changes := l.fdChanges
	l.fdChanges = l.fdChanges[:0]
	var err error
	for i, fd := range changes {
		st := l.fds[fd]
		if st == nil {
			continue
		}
		if err = l.reifyFD(fd, st); err != nil {
			// requeue the rest, including fd, which is still marked dirty
			l.fdChanges = append(l.fdChanges, changes[i:]...)
			break
		}
	}
	return err
}

func (l *Loop) reifyFD(fd int, st *fdState) error {
	var want Event
	for _, w := range st.watchers {
		want |= w.events
	}
	var (
		op  string
		err error
	)
	switch {
	case want == st.registered:
	case want == EventNone:
		op, err = "remove", l.backend.Remove(fd)
	case st.registered == EventNone:
		op, err = "add", l.backend.Add(fd, want)
	default:
		op, err = "modify", l.backend.Modify(fd, want)
	}
	if err != nil {
		return &BackendError{Op: op, FD: fd, Err: err}
	}
	st.registered = want
	st.dirty = false
	if len(st.watchers) == 0 {
		delete(l.fds, fd)
	}
	return nil
}

// fdReady is called by the backend for each ready descriptor.
func (l *Loop) fdReady(fd int, events Event) {
	if fd == l.wakeFd {
		l.woke = true
		return
	}
	st := l.fds[fd]
	if st == nil {
		return
	}
	for _, w := range st.watchers {
		if ev := events & w.events; ev != 0 {
			l.feed(&w.watcher, ev)
		}
	}
}
