package evloop

import (
	"container/heap"
	"fmt"
	"time"
)

// timerEntry is a deadline tracked by a timerHeap. The owner supplies fire,
// which is called once the deadline has passed, after the entry has been
// removed from the heap. fire may push the entry again.
type timerEntry struct {
	when  time.Time
	fire  func(now time.Time)
	index int // position in the heap, -1 if not queued
}

func newTimerEntry(fire func(now time.Time)) *timerEntry {
	return &timerEntry{fire: fire, index: -1}
}

// queued reports whether the entry is in a heap.
func (e *timerEntry) queued() bool { return e.index >= 0 }

// timerHeap is a binary min-heap of entries ordered by deadline, with each
// entry tracking its own position so that removal is O(log n).
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	e.index = -1
	return e
}

// push inserts e, which must not already be queued.
func (h *timerHeap) push(e *timerEntry) {
	heap.Push(h, e)
}

// remove drops e if it is queued.
func (h *timerHeap) remove(e *timerEntry) {
	if e.index < 0 {
		return
	}
	heap.Remove(h, e.index)
}

// fix restores heap order after e.when was changed, queueing e if needed.
func (h *timerHeap) fix(e *timerEntry) {
	if e.index < 0 {
		heap.Push(h, e)
		return
	}
	heap.Fix(h, e.index)
}

// peek returns the earliest entry, or nil.
func (h timerHeap) peek() *timerEntry {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// popDue removes every entry with a deadline at or before now, appending them
// to buf in deadline order. Collecting first means an entry re-armed by its
// own fire func is not seen again in the same pass.
func (h *timerHeap) popDue(now time.Time, buf []*timerEntry) []*timerEntry {
	for len(*h) != 0 && !(*h)[0].when.After(now) {
		buf = append(buf, heap.Pop(h).(*timerEntry))
	}
	return buf
}

// shift moves every deadline by d. Order is unaffected.
func (h timerHeap) shift(d time.Duration) {
	for _, e := range h {
		e.when = e.when.Add(d)
	}
}

// verify checks the heap property and the stored positions.
func (h timerHeap) verify() error {
	for i, e := range h {
		if e == nil {
			return fmt.Errorf("timer heap: nil entry at %d", i)
		}
		if e.index != i {
			return fmt.Errorf("timer heap: entry at %d has index %d", i, e.index)
		}
		if i > 0 {
			if parent := (i - 1) / 2; h.Less(i, parent) {
				return fmt.Errorf("timer heap: entry at %d precedes its parent %d", i, parent)
			}
		}
	}
	return nil
}
