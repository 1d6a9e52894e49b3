package evloop

import (
	"time"
)

// Timer fires once after a relative timeout, and then optionally repeats.
//
// Timers are based on the monotonic clock, and are unaffected by changes to
// the wall clock. A repeating timer is re-armed relative to its previous
// deadline, not to the time its callback ran, so it does not drift.
type Timer struct {
	watcher
	cb     func(w *Timer, revents Event)
	entry  *timerEntry
	after  time.Duration
	repeat time.Duration
}

// NewTimer creates an inactive timer, which once started will fire after
// after, then every repeat if repeat is positive.
func NewTimer(l *Loop, after, repeat time.Duration, cb func(w *Timer, revents Event)) *Timer {
	w := &Timer{cb: cb, after: after, repeat: max(repeat, 0)}
	w.entry = newTimerEntry(w.expire)
	w.init(l, w, KindTimer, w.invoke)
	return w
}

func (w *Timer) invoke(revents Event) {
	if w.cb != nil {
		w.cb(w, revents)
	}
}

// SetCallback replaces the callback.
func (w *Timer) SetCallback(cb func(w *Timer, revents Event)) { w.cb = cb }

// Set changes the timeout and repeat interval. The watcher must be inactive.
func (w *Timer) Set(after, repeat time.Duration) error {
	if err := w.checkInactive("Timer.Set"); err != nil {
		return err
	}
	w.after, w.repeat = after, max(repeat, 0)
	return nil
}

// Repeat returns the repeat interval, zero for a one-shot timer.
func (w *Timer) Repeat() time.Duration { return w.repeat }

// SetRepeat changes the repeat interval. The watcher must be inactive.
func (w *Timer) SetRepeat(repeat time.Duration) error {
	if err := w.checkInactive("Timer.SetRepeat"); err != nil {
		return err
	}
	w.repeat = max(repeat, 0)
	return nil
}

// Remaining returns the time until the timer fires, or zero if it is
// inactive.
func (w *Timer) Remaining() time.Duration {
	if !w.active {
		return 0
	}
	return max(w.entry.when.Sub(w.loop.now), 0)
}

// Again restarts the timer using the repeat interval: an active timer is
// re-armed to fire after repeat, or stopped if it does not repeat; an
// inactive repeating timer is started. Any pending invocation is cancelled.
//
// This is the efficient way to implement an inactivity timeout.
func (w *Timer) Again() error {
	if err := w.loop.checkOwner("Timer.Again"); err != nil {
		return err
	}
	w.ClearPending()
	if w.active {
		if w.repeat <= 0 {
			w.halt()
			return nil
		}
		w.entry.when = w.loop.now.Add(w.repeat)
		w.loop.timers.fix(w.entry)
		return nil
	}
	if w.repeat <= 0 {
		return nil
	}
	w.after = w.repeat
	return w.Start()
}

func (w *Timer) start() error {
	l := w.loop
	if l.depth == 0 {
		// the cached time is stale outside of Run
		l.updateNow()
	}
	w.entry.when = l.now.Add(w.after)
	l.timers.push(w.entry)
	return nil
}

func (w *Timer) stop() {
	w.loop.timers.remove(w.entry)
}

// autoStop is true once a one-shot timer has expired.
func (w *Timer) autoStop() bool { return !w.entry.queued() }

// expire is called once the deadline has passed.
func (w *Timer) expire(now time.Time) {
	l := w.loop
	if w.repeat > 0 {
		w.entry.when = w.entry.when.Add(w.repeat)
		if w.entry.when.Before(now) {
			w.entry.when = now
		}
		l.timers.push(w.entry)
	}
	l.feed(&w.watcher, EventTimer)
}
