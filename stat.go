package evloop

import (
	"os"
	"time"
)

const (
	// DefaultStatInterval is the polling interval used when none is given.
	DefaultStatInterval = 5 * time.Second
	// MinStatInterval is the smallest polling interval accepted.
	MinStatInterval = 100 * time.Millisecond
)

// Statdata holds the attributes of a path, as observed by a Stat watcher.
// A path that does not exist has Nlink == 0 and Exists() == false.
type Statdata struct {
	Mtime time.Time
	Atime time.Time
	Ctime time.Time
	Size  int64
	Dev   uint64
	Rdev  uint64
	Ino   uint64
	Nlink uint64
	Mode  os.FileMode
	UID   uint32
	GID   uint32
}

// Exists reports whether the path existed when observed.
func (s Statdata) Exists() bool { return s.Nlink != 0 }

// Stat watches a path for attribute changes, by polling.
//
// The callback is invoked whenever the attributes differ from the previous
// observation, including when the path is created or removed.
type Stat struct {
	watcher
	cb       func(w *Stat, revents Event)
	entry    *timerEntry
	path     string
	interval time.Duration
	attr     Statdata
	prev     Statdata
}

// NewStat creates an inactive stat watcher, polling path every interval.
// Zero selects DefaultStatInterval, and intervals below MinStatInterval are
// raised to it.
func NewStat(l *Loop, path string, interval time.Duration, cb func(w *Stat, revents Event)) (*Stat, error) {
	if path == "" || interval < 0 {
		return nil, usageError("NewStat", ErrInvalidArgument)
	}
	w := &Stat{cb: cb, path: path, interval: statInterval(interval)}
	w.entry = newTimerEntry(w.poll)
	w.init(l, w, KindStat, w.invoke)
	return w, nil
}

func statInterval(interval time.Duration) time.Duration {
	if interval == 0 {
		return DefaultStatInterval
	}
	return max(interval, MinStatInterval)
}

func (w *Stat) invoke(revents Event) {
	if w.cb != nil {
		w.cb(w, revents)
	}
}

// SetCallback replaces the callback.
func (w *Stat) SetCallback(cb func(w *Stat, revents Event)) { w.cb = cb }

// Set changes the path and interval. The watcher must be inactive.
func (w *Stat) Set(path string, interval time.Duration) error {
	if err := w.checkInactive("Stat.Set"); err != nil {
		return err
	}
	if path == "" || interval < 0 {
		return usageError("Stat.Set", ErrInvalidArgument)
	}
	w.path, w.interval = path, statInterval(interval)
	return nil
}

// Path returns the watched path.
func (w *Stat) Path() string { return w.path }

// Interval returns the polling interval.
func (w *Stat) Interval() time.Duration { return w.interval }

// Attr returns the most recent observation.
func (w *Stat) Attr() Statdata { return w.attr }

// Prev returns the observation preceding Attr.
func (w *Stat) Prev() Statdata { return w.prev }

// Stat refreshes Attr immediately, without invoking the callback. The
// previous value moves to Prev.
func (w *Stat) Stat() Statdata {
	w.prev, w.attr = w.attr, statPath(w.path)
	return w.attr
}

func (w *Stat) start() error {
	l := w.loop
	if l.depth == 0 {
		l.updateNow()
	}
	w.attr = statPath(w.path)
	w.prev = w.attr
	w.entry.when = l.now.Add(w.interval)
	l.timers.push(w.entry)
	return nil
}

func (w *Stat) stop() {
	w.loop.timers.remove(w.entry)
}

func (w *Stat) autoStop() bool { return false }

// poll is called from the timer heap every interval.
func (w *Stat) poll(now time.Time) {
	l := w.loop
	w.entry.when = now.Add(w.interval)
	l.timers.push(w.entry)
	attr := statPath(w.path)
	if attr != w.attr {
		w.prev, w.attr = w.attr, attr
		l.feed(&w.watcher, EventStat)
	}
}
