package evloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhase_IterationOrder(t *testing.T) {
	l := newTestLoop(t)

	var order []string
	prepare := NewPrepare(l, func(w *Prepare, revents Event) {
		assert.Equal(t, EventPrepare, revents)
		order = append(order, "prepare")
	})
	check := NewCheck(l, func(w *Check, revents Event) {
		assert.Equal(t, EventCheck, revents)
		order = append(order, "check")
	})
	timer := NewTimer(l, 0, 0, func(*Timer, Event) { order = append(order, "timer") })
	require.NoError(t, check.SetPriority(MinPriority))
	for _, w := range []Watcher{timer, check, prepare} {
		require.NoError(t, w.Start())
	}

	require.NoError(t, l.RunOnce(context.Background()))
	assert.Equal(t, []string{"prepare", "check", "timer"}, order)
}

func TestPhase_PrepareStopPreventsPoll(t *testing.T) {
	l := newTestLoop(t)
	require.NoError(t, NewTimer(l, time.Hour, 0, nil).Start())
	prepare := NewPrepare(l, func(*Prepare, Event) { l.Stop() })
	require.NoError(t, prepare.Start())

	start := time.Now()
	require.NoError(t, runWithTimeout(t, l, 5*time.Second))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, uint64(0), l.Iteration())
}

func TestPhase_IdleRunsWhenNothingElsePending(t *testing.T) {
	l := newTestLoop(t)

	var order []string
	idle := NewIdle(l, func(*Idle, Event) { order = append(order, "idle") })
	high := NewAsync(l, func(*Async, Event) { order = append(order, "high") })
	low := NewAsync(l, func(*Async, Event) { order = append(order, "low") })
	require.NoError(t, high.SetPriority(1))
	require.NoError(t, low.SetPriority(-1))
	for _, w := range []Watcher{idle, high, low} {
		require.NoError(t, w.Start())
	}

	// pending work at a higher priority holds the idle watcher back
	high.Send()
	require.NoError(t, l.RunNoWait(context.Background()))
	assert.Equal(t, []string{"high"}, order)

	// lower priority work does not
	order = nil
	low.Send()
	require.NoError(t, l.RunNoWait(context.Background()))
	assert.Equal(t, []string{"idle", "low"}, order)

	order = nil
	require.NoError(t, l.RunNoWait(context.Background()))
	assert.Equal(t, []string{"idle"}, order)
}

func TestPhase_IdleMakesPollNonBlocking(t *testing.T) {
	l := newTestLoop(t)
	require.NoError(t, NewTimer(l, time.Hour, 0, nil).Start())
	n := 0
	idle := NewIdle(l, func(w *Idle, revents Event) {
		assert.Equal(t, EventIdle, revents)
		if n++; n == 3 {
			l.Stop()
		}
	})
	require.NoError(t, idle.Start())

	start := time.Now()
	require.NoError(t, runWithTimeout(t, l, 5*time.Second))
	assert.Equal(t, 3, n)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPhase_IdlePriorityChange(t *testing.T) {
	l := newTestLoop(t)
	idle := NewIdle(l, nil)
	require.NoError(t, idle.Start())
	require.NoError(t, idle.Stop())
	require.NoError(t, idle.SetPriority(MaxPriority))
	require.NoError(t, idle.Start())
	assert.Len(t, l.idles[MaxPriority-MinPriority], 1)
	assert.Empty(t, l.idles[DefaultPriority-MinPriority])
	assert.NoError(t, l.Verify())
}

func TestPhase_CleanupOnlyOnClose(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	n := 0
	cleanup := NewCleanup(l, func(w *Cleanup, revents Event) {
		n++
		// watchers may still be stopped from a cleanup callback
		assert.NoError(t, w.Stop())
	})
	require.NoError(t, cleanup.Start())
	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, 0, n)
	assert.Len(t, l.Watchers(), 1)

	require.NoError(t, l.Close())
	assert.Equal(t, 1, n)
}

func TestPhase_FedCheckStaysBeforeDispatch(t *testing.T) {
	l := newTestLoop(t)

	var order []string
	var checkEvents Event
	check := NewCheck(l, func(w *Check, revents Event) {
		checkEvents |= revents
		order = append(order, "check")
	})
	prepare := NewPrepare(l, func(*Prepare, Event) {
		require.NoError(t, check.FeedEvent(EventCustom))
	})
	timer := NewTimer(l, 0, 0, func(*Timer, Event) { order = append(order, "timer") })
	require.NoError(t, timer.SetPriority(MaxPriority))
	for _, w := range []Watcher{timer, check, prepare} {
		require.NoError(t, w.Start())
	}

	require.NoError(t, l.RunOnce(context.Background()))
	assert.Equal(t, []string{"check", "timer"}, order)
	assert.Equal(t, EventCheck|EventCustom, checkEvents)
	assert.NoError(t, l.Verify())
}
