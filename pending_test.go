package evloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingTestWatcher(priority int) *watcher {
	w := &watcher{priority: priority, listIdx: -1}
	return w
}

func TestPendingQueue_PriorityThenFIFO(t *testing.T) {
	q := newPendingQueue()
	a := newPendingTestWatcher(0)
	b := newPendingTestWatcher(2)
	c := newPendingTestWatcher(0)
	d := newPendingTestWatcher(-2)
	e := newPendingTestWatcher(2)
	for _, w := range []*watcher{a, b, c, d, e} {
		q.push(w, EventCustom)
	}
	require.Equal(t, 5, q.live)

	var order []*watcher
	for {
		w, _ := q.pop()
		if w == nil {
			break
		}
		order = append(order, w)
	}
	assert.Equal(t, []*watcher{b, e, a, c, d}, order)
	assert.Equal(t, 0, q.live)
}

func TestPendingQueue_MergesEvents(t *testing.T) {
	q := newPendingQueue()
	w := newPendingTestWatcher(0)
	q.push(w, EventRead)
	q.push(w, EventWrite)
	require.Equal(t, 1, q.live)

	got, revents := q.pop()
	assert.Same(t, w, got)
	assert.Equal(t, EventRead|EventWrite, revents)
	assert.Nil(t, w.pending)
}

func TestPendingQueue_CancelSkipped(t *testing.T) {
	q := newPendingQueue()
	a := newPendingTestWatcher(1)
	b := newPendingTestWatcher(1)
	q.push(a, EventTimer)
	q.push(b, EventTimer)

	assert.Equal(t, EventTimer, a.pending.cancel())
	assert.Equal(t, EventNone, (&pendingEntry{}).cancel())
	assert.Equal(t, 1, q.live)
	assert.Equal(t, 1, q.liveAt(1))
	assert.True(t, q.verify())

	got, _ := q.pop()
	assert.Same(t, b, got)
	got, _ = q.pop()
	assert.Nil(t, got)
}

func TestPendingQueue_Clear(t *testing.T) {
	q := newPendingQueue()
	ws := []*watcher{newPendingTestWatcher(0), newPendingTestWatcher(-1), newPendingTestWatcher(2)}
	for _, w := range ws {
		q.push(w, EventIdle)
	}
	q.clear()
	assert.Equal(t, 0, q.live)
	for _, w := range ws {
		assert.Nil(t, w.pending)
	}
	assert.True(t, q.verify())
}

func TestPendingQueue_PushMovesFromOtherQueue(t *testing.T) {
	general, phase := newPendingQueue(), newPendingQueue()
	w := newPendingTestWatcher(0)
	general.push(w, EventCustom)
	phase.push(w, EventCheck)

	assert.Equal(t, 0, general.live)
	assert.Equal(t, 1, phase.live)
	assert.True(t, general.verify())
	assert.True(t, phase.verify())

	got, revents := general.pop()
	assert.Nil(t, got)
	got, revents = phase.pop()
	assert.Same(t, w, got)
	assert.Equal(t, EventCheck|EventCustom, revents)
}
