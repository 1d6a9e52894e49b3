package evloop

import (
	"os"
)

// Signal watches for delivery of an OS signal.
//
// A signal may only be watched by one loop at a time, though that loop may
// have any number of watchers for it. While watched, the signal's default
// action (e.g. terminating the process on SIGINT) is disabled.
//
// Deliveries that arrive before the loop observes the first are coalesced.
type Signal struct {
	watcher
	cb      func(w *Signal, revents Event)
	sig     os.Signal
	oneShot bool
}

// NewSignal creates an inactive signal watcher.
func NewSignal(l *Loop, sig os.Signal, cb func(w *Signal, revents Event)) (*Signal, error) {
	if sig == nil {
		return nil, usageError("NewSignal", ErrInvalidArgument)
	}
	w := &Signal{cb: cb, sig: sig}
	w.init(l, w, KindSignal, w.invoke)
	return w, nil
}

func (w *Signal) invoke(revents Event) {
	if w.cb != nil {
		w.cb(w, revents)
	}
}

// SetCallback replaces the callback.
func (w *Signal) SetCallback(cb func(w *Signal, revents Event)) { w.cb = cb }

// Set changes the signal. The watcher must be inactive.
func (w *Signal) Set(sig os.Signal) error {
	if err := w.checkInactive("Signal.Set"); err != nil {
		return err
	}
	if sig == nil {
		return usageError("Signal.Set", ErrInvalidArgument)
	}
	w.sig = sig
	return nil
}

// Signal returns the watched signal.
func (w *Signal) Signal() os.Signal { return w.sig }

// SetOneShot makes the watcher stop itself on delivery, before its
// callback runs. The watcher must be inactive.
func (w *Signal) SetOneShot(oneShot bool) error {
	if err := w.checkInactive("Signal.SetOneShot"); err != nil {
		return err
	}
	w.oneShot = oneShot
	return nil
}

// OneShot reports whether the watcher is one-shot.
func (w *Signal) OneShot() bool { return w.oneShot }

func (w *Signal) start() error {
	l := w.loop
	s := l.signals[w.sig]
	if s == nil {
		if err := claimSignal(l, w.sig); err != nil {
			return usageError("Signal.Start", err)
		}
		s = openSignalSlot(l, w.sig, &l.signalPending)
		l.signals[w.sig] = s
	}
	s.watchers.add(&w.watcher)
	return nil
}

func (w *Signal) stop() {
	l := w.loop
	s := l.signals[w.sig]
	if s == nil {
		return
	}
	s.watchers.remove(&w.watcher)
	if len(s.watchers) == 0 {
		s.close()
		delete(l.signals, w.sig)
		releaseSignal(l, w.sig)
	}
}

func (w *Signal) autoStop() bool { return w.oneShot }
