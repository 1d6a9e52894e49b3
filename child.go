package evloop

import (
	"syscall"
)

// Child watches for status changes of child processes. Child watchers may
// only be started on the default loop.
//
// The loop reaps the processes it reports: do not also wait on them, e.g.
// with os.Process.Wait.
type Child struct {
	watcher
	cb      func(w *Child, revents Event)
	pid     int
	rpid    int
	rstatus syscall.WaitStatus
	trace   bool
}

// NewChild creates an inactive child watcher, for the process pid, or for
// any child process if pid is 0. With trace set, the watcher is also
// notified when the process is stopped or continued, rather than only when
// it terminates.
func NewChild(l *Loop, pid int, trace bool, cb func(w *Child, revents Event)) (*Child, error) {
	if pid < 0 {
		return nil, usageError("NewChild", ErrInvalidArgument)
	}
	w := &Child{cb: cb, pid: pid, trace: trace}
	w.init(l, w, KindChild, w.invoke)
	return w, nil
}

func (w *Child) invoke(revents Event) {
	if w.cb != nil {
		w.cb(w, revents)
	}
}

// SetCallback replaces the callback.
func (w *Child) SetCallback(cb func(w *Child, revents Event)) { w.cb = cb }

// Set changes the process and trace flag. The watcher must be inactive.
func (w *Child) Set(pid int, trace bool) error {
	if err := w.checkInactive("Child.Set"); err != nil {
		return err
	}
	if pid < 0 {
		return usageError("Child.Set", ErrInvalidArgument)
	}
	w.pid, w.trace = pid, trace
	return nil
}

// PID returns the watched process ID, 0 meaning any child.
func (w *Child) PID() int { return w.pid }

// Trace reports whether stop and continue events are reported.
func (w *Child) Trace() bool { return w.trace }

// RPID returns the ID of the process that last changed status.
func (w *Child) RPID() int { return w.rpid }

// RStatus returns the status last reported.
func (w *Child) RStatus() syscall.WaitStatus { return w.rstatus }

func (w *Child) start() error {
	l := w.loop
	if !l.isDefault {
		return usageError("Child.Start", ErrNotDefaultLoop)
	}
	if err := l.watchChildren(); err != nil {
		return err
	}
	l.children.add(&w.watcher)
	// the process may have changed status before the watcher started
	l.childPending.Store(true)
	return nil
}

func (w *Child) stop() {
	l := w.loop
	l.children.remove(&w.watcher)
	if len(l.children) == 0 {
		l.unwatchChildren()
	}
}

// autoStop is true once a specific process has terminated.
func (w *Child) autoStop() bool {
	return w.pid != 0 && w.rpid == w.pid && (w.rstatus.Exited() || w.rstatus.Signaled())
}

// deliverChild records a status change on every matching watcher.
func (l *Loop) deliverChild(pid int, status syscall.WaitStatus) {
	traced := status.Stopped() || status.Continued()
	for _, b := range l.children {
		w := b.self.(*Child)
		if w.pid != 0 && w.pid != pid {
			continue
		}
		if traced && !w.trace {
			continue
		}
		w.rpid, w.rstatus = pid, status
		l.feed(b, EventChild)
	}
}
