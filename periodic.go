package evloop

import (
	"time"
)

// RescheduleFunc computes the next time a Periodic fires, given the current
// wall clock time. Returning a time that is not after now makes the
// watcher one-shot: it fires once more, then stops.
type RescheduleFunc func(w *Periodic, now time.Time) time.Time

// Periodic fires at absolute wall clock times, following changes to the
// system clock.
//
// The schedule is one of:
//   - reschedule != nil: whatever reschedule returns
//   - interval > 0: offset + k*interval, for the smallest k in the future,
//     e.g. the zero offset (the Unix epoch) with an interval of one hour
//     fires on the hour
//   - otherwise: once, at offset
type Periodic struct {
	watcher
	cb         func(w *Periodic, revents Event)
	reschedule RescheduleFunc
	entry      *timerEntry
	offset     time.Time
	interval   time.Duration
	oneShot    bool
}

// NewPeriodic creates an inactive periodic watcher.
func NewPeriodic(l *Loop, offset time.Time, interval time.Duration, reschedule RescheduleFunc, cb func(w *Periodic, revents Event)) (*Periodic, error) {
	if interval < 0 {
		return nil, usageError("NewPeriodic", ErrInvalidArgument)
	}
	w := &Periodic{cb: cb, reschedule: reschedule, offset: periodicOffset(offset), interval: interval}
	w.entry = newTimerEntry(w.expire)
	w.init(l, w, KindPeriodic, w.invoke)
	return w, nil
}

func (w *Periodic) invoke(revents Event) {
	if w.cb != nil {
		w.cb(w, revents)
	}
}

// SetCallback replaces the callback.
func (w *Periodic) SetCallback(cb func(w *Periodic, revents Event)) { w.cb = cb }

// Set changes the schedule. The watcher must be inactive.
func (w *Periodic) Set(offset time.Time, interval time.Duration, reschedule RescheduleFunc) error {
	if err := w.checkInactive("Periodic.Set"); err != nil {
		return err
	}
	if interval < 0 {
		return usageError("Periodic.Set", ErrInvalidArgument)
	}
	w.offset, w.interval, w.reschedule = periodicOffset(offset), interval, reschedule
	return nil
}

// periodicOffset maps the zero time to the Unix epoch.
func periodicOffset(offset time.Time) time.Time {
	if offset.IsZero() {
		return time.Unix(0, 0)
	}
	return offset.Round(0)
}

// Offset returns the schedule offset.
func (w *Periodic) Offset() time.Time { return w.offset }

// Interval returns the schedule interval.
func (w *Periodic) Interval() time.Duration { return w.interval }

// At returns the time the watcher will next fire, or the zero time if it is
// inactive.
func (w *Periodic) At() time.Time {
	if !w.active {
		return time.Time{}
	}
	return w.entry.when
}

// Reset recomputes the next fire time, e.g. after changing state consulted
// by the reschedule func. The watcher is started if inactive.
func (w *Periodic) Reset() error {
	if !w.active {
		return w.Start()
	}
	if err := w.loop.checkOwner("Periodic.Reset"); err != nil {
		return err
	}
	w.recalc(w.loop.wallNow)
	return nil
}

func (w *Periodic) start() error {
	l := w.loop
	if l.depth == 0 {
		l.updateNow()
	}
	w.recalc(l.wallNow)
	return nil
}

func (w *Periodic) stop() {
	w.loop.periodics.remove(w.entry)
}

func (w *Periodic) autoStop() bool { return !w.entry.queued() }

// recalc computes the next fire time after now, and queues the entry.
func (w *Periodic) recalc(now time.Time) {
	w.oneShot = false
	switch {
	case w.reschedule != nil:
		at := w.reschedule(w, now).Round(0)
		if !at.After(now) {
			w.oneShot = true
		}
		w.entry.when = at
	case w.interval > 0:
		w.entry.when = nextInterval(w.offset, w.interval, now)
	default:
		w.oneShot = true
		w.entry.when = w.offset
	}
	w.loop.periodics.fix(w.entry)
}

// nextInterval returns the first offset + k*interval strictly after now.
func nextInterval(offset time.Time, interval time.Duration, now time.Time) time.Time {
	d := now.Sub(offset)
	k := d / interval
	if d%interval < 0 {
		k-- // floor
	}
	return offset.Add((k + 1) * interval)
}

// expire is called once the fire time has passed.
func (w *Periodic) expire(now time.Time) {
	if !w.oneShot {
		w.recalc(now)
	}
	w.loop.feed(&w.watcher, EventPeriodic)
}

// reschedulePeriodics recomputes every periodic after a clock jump.
func (l *Loop) reschedulePeriodics() {
	for _, w := range l.active.ToSlice() {
		if p, ok := w.(*Periodic); ok && !p.oneShot {
			p.recalc(l.wallNow)
		}
	}
}
