package evloop

import (
	"github.com/eapache/queue"
)

// pendingEntry is a queued invocation. Cancelling an entry clears w, leaving
// the entry in its queue to be skipped at dispatch.
type pendingEntry struct {
	w       *watcher
	q       *pendingQueue
	revents Event
	level   int
}

// pendingQueue holds one FIFO per priority level.
type pendingQueue struct {
	levels [numPriorities]*queue.Queue
	counts [numPriorities]int // live entries per level
	live   int
}

func newPendingQueue() *pendingQueue {
	q := &pendingQueue{}
	for i := range q.levels {
		q.levels[i] = queue.New()
	}
	return q
}

// push queues w, or merges revents into its existing entry. An entry in
// another queue is moved to q, carrying its events.
func (q *pendingQueue) push(w *watcher, revents Event) {
	if e := w.pending; e != nil {
		if e.q == q {
			e.revents |= revents
			return
		}
		revents |= e.cancel()
	}
	e := &pendingEntry{w: w, q: q, revents: revents, level: w.priority - MinPriority}
	w.pending = e
	q.levels[e.level].Add(e)
	q.counts[e.level]++
	q.live++
}

// cancel detaches e from its watcher, returning the events it carried.
func (e *pendingEntry) cancel() Event {
	if e.w == nil {
		return EventNone
	}
	e.w.pending = nil
	e.w = nil
	e.q.counts[e.level]--
	e.q.live--
	return e.revents
}

// pop returns the next live entry, highest priority first, or a nil watcher
// once the queue is drained. The entry is detached from its watcher.
func (q *pendingQueue) pop() (*watcher, Event) {
	for i := len(q.levels) - 1; i >= 0; i-- {
		level := q.levels[i]
		for level.Length() != 0 {
			e := level.Remove().(*pendingEntry)
			if w := e.w; w != nil {
				return w, e.cancel()
			}
		}
	}
	return nil, EventNone
}

// liveAt returns the number of live entries at priority.
func (q *pendingQueue) liveAt(priority int) int {
	return q.counts[priority-MinPriority]
}

// clear cancels every entry.
func (q *pendingQueue) clear() {
	for _, level := range q.levels {
		for level.Length() != 0 {
			level.Remove().(*pendingEntry).cancel()
		}
	}
}

// verify checks the live counts against the queued entries.
func (q *pendingQueue) verify() bool {
	var total int
	for i, level := range q.levels {
		var n int
		for j := 0; j < level.Length(); j++ {
			e := level.Get(j).(*pendingEntry)
			if e.w == nil {
				continue
			}
			if e.w.pending != e || e.level != i {
				return false
			}
			n++
		}
		if n != q.counts[i] {
			return false
		}
		total += n
	}
	return total == q.live
}
