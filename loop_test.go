package evloop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a Backend whose Wait results are scripted.
type fakeBackend struct {
	waits   []error
	calls   int
	closed  bool
	timeout time.Duration
}

func (b *fakeBackend) Name() string                      { return "fake" }
func (b *fakeBackend) Add(fd int, events Event) error    { return nil }
func (b *fakeBackend) Modify(fd int, events Event) error { return nil }
func (b *fakeBackend) Remove(fd int) error               { return nil }
func (b *fakeBackend) FD() int                           { return -1 }

func (b *fakeBackend) Wait(timeout time.Duration, ready func(fd int, events Event)) error {
	b.calls++
	b.timeout = timeout
	if len(b.waits) == 0 {
		return nil
	}
	err := b.waits[0]
	b.waits = b.waits[1:]
	return err
}

func (b *fakeBackend) Close() error {
	b.closed = true
	return nil
}

func TestLoop_TwoTimers(t *testing.T) {
	l := newTestLoop(t)

	var order []string
	a := NewTimer(l, 10*time.Millisecond, 0, func(w *Timer, revents Event) {
		if revents != EventTimer {
			t.Errorf("unexpected revents: %s", revents)
		}
		if w.Active() {
			t.Error("one-shot timer still active in its callback")
		}
		order = append(order, "a")
	})
	b := NewTimer(l, 30*time.Millisecond, 0, func(w *Timer, revents Event) {
		order = append(order, "b")
	})
	start := time.Now()
	require.NoError(t, b.Start())
	require.NoError(t, a.Start())

	require.NoError(t, runWithTimeout(t, l, 5*time.Second))

	assert.Equal(t, []string{"a", "b"}, order)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, 0, l.ActiveCount())
	assert.Equal(t, StateIdle, l.State())
	assert.NoError(t, l.Verify())
}

func TestLoop_RunWithoutWatchersReturns(t *testing.T) {
	l := newTestLoop(t)
	require.NoError(t, runWithTimeout(t, l, time.Second))
	assert.Equal(t, uint64(1), l.Iteration())
}

func TestLoop_NestedRunStop(t *testing.T) {
	l := newTestLoop(t)

	var (
		innerDepth int
		nestedErr  error
		nestedRan  bool
	)
	outer := NewTimer(l, 5*time.Millisecond, 5*time.Millisecond, nil)
	outer.SetCallback(func(w *Timer, revents Event) {
		if l.Depth() > 1 || nestedRan {
			return
		}
		nestedRan = true
		inner := NewTimer(l, 5*time.Millisecond, 0, func(w *Timer, revents Event) {
			innerDepth = l.Depth()
			l.Stop()
		})
		if err := inner.Start(); err != nil {
			t.Error(err)
			return
		}
		nestedErr = l.Run(context.Background())
		// the outer run continues until this stops
		w.Stop()
	})
	require.NoError(t, outer.Start())

	require.NoError(t, runWithTimeout(t, l, 5*time.Second))
	assert.NoError(t, nestedErr)
	assert.True(t, nestedRan)
	assert.Equal(t, 2, innerDepth)
	assert.Equal(t, 0, l.Depth())
	assert.Equal(t, StateIdle, l.State())
}

func TestLoop_BreakAll(t *testing.T) {
	l := newTestLoop(t)

	var afterNested bool
	outer := NewTimer(l, time.Millisecond, 5*time.Millisecond, nil)
	outer.SetCallback(func(w *Timer, revents Event) {
		if l.Depth() > 1 {
			return
		}
		inner := NewTimer(l, time.Millisecond, 0, func(*Timer, Event) {
			l.Break(BreakAll)
		})
		if err := inner.Start(); err != nil {
			t.Error(err)
			return
		}
		if err := l.Run(context.Background()); err != nil {
			t.Error(err)
		}
		afterNested = true
	})
	require.NoError(t, outer.Start())

	require.NoError(t, runWithTimeout(t, l, 5*time.Second))
	assert.True(t, afterNested)
	// the repeating timer was still active
	assert.True(t, outer.Active())
	assert.Equal(t, StateIdle, l.State())

	// a later run is not affected by the consumed break
	require.NoError(t, outer.Stop())
	fired := false
	require.NoError(t, NewTimer(l, time.Millisecond, 0, func(*Timer, Event) { fired = true }).Start())
	require.NoError(t, runWithTimeout(t, l, 5*time.Second))
	assert.True(t, fired)
}

func TestLoop_StopWhileIdleIsNoop(t *testing.T) {
	l := newTestLoop(t)
	l.Stop()
	l.Break(BreakAll)
	assert.Equal(t, StateIdle, l.State())

	fired := false
	require.NoError(t, NewTimer(l, time.Millisecond, 0, func(*Timer, Event) { fired = true }).Start())
	require.NoError(t, runWithTimeout(t, l, 5*time.Second))
	assert.True(t, fired)
}

func TestLoop_StopFromAnotherGoroutine(t *testing.T) {
	l := newTestLoop(t)
	keepalive := NewAsync(l, nil)
	require.NoError(t, keepalive.Start())

	go func() {
		for l.State() != StateRunning {
			time.Sleep(time.Millisecond)
		}
		l.Stop()
	}()

	require.NoError(t, runWithTimeout(t, l, 5*time.Second))
	assert.True(t, keepalive.Active())
}

func TestLoop_ConcurrentRun(t *testing.T) {
	l := newTestLoop(t)
	stop := NewAsync(l, func(w *Async, revents Event) { l.Stop() })
	require.NoError(t, stop.Start())

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for l.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatal("loop did not start")
		}
		time.Sleep(time.Millisecond)
	}

	assert.ErrorIs(t, l.Run(context.Background()), ErrConcurrentAccess)
	assert.ErrorIs(t, l.RunOnce(context.Background()), ErrConcurrentAccess)
	assert.ErrorIs(t, l.Close(), ErrConcurrentAccess)
	assert.ErrorIs(t, stop.Stop(), ErrConcurrentAccess)

	stop.Send()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoop_ContextCancel(t *testing.T) {
	l := newTestLoop(t)
	require.NoError(t, NewAsync(l, nil).Start())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateIdle, l.State())
}

func TestLoop_RunOnceBlocksForEvent(t *testing.T) {
	l := newTestLoop(t)
	fired := 0
	timer := NewTimer(l, 10*time.Millisecond, 10*time.Millisecond, func(*Timer, Event) { fired++ })
	require.NoError(t, timer.Start())

	for fired == 0 {
		require.NoError(t, l.RunOnce(context.Background()))
	}
	assert.Equal(t, 1, fired)
	assert.True(t, timer.Active())
}

func TestLoop_RunNoWait(t *testing.T) {
	l := newTestLoop(t)
	timer := NewTimer(l, time.Hour, 0, func(*Timer, Event) { t.Error("fired") })
	require.NoError(t, timer.Start())

	start := time.Now()
	require.NoError(t, l.RunNoWait(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, uint64(1), l.Iteration())
	assert.True(t, timer.Active())
}

func TestLoop_Close(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	timer := NewTimer(l, time.Hour, 0, nil)
	require.NoError(t, timer.Start())
	assert.ErrorIs(t, l.Close(), ErrLoopBusy)
	assert.Equal(t, StateIdle, l.State())
	require.NoError(t, timer.Stop())

	var cleaned Event
	cleanup := NewCleanup(l, func(w *Cleanup, revents Event) { cleaned = revents })
	require.NoError(t, cleanup.Start())
	assert.Equal(t, 0, l.ActiveCount())

	require.NoError(t, l.Close())
	assert.Equal(t, EventCleanup, cleaned)
	assert.False(t, cleanup.Active())
	assert.Equal(t, StateClosed, l.State())

	assert.ErrorIs(t, l.Close(), ErrLoopClosed)
	assert.ErrorIs(t, l.Run(context.Background()), ErrLoopClosed)
	assert.ErrorIs(t, timer.Start(), ErrLoopClosed)
}

func TestLoop_CloseFromCallback(t *testing.T) {
	l := newTestLoop(t)
	var closeErr error
	require.NoError(t, NewTimer(l, time.Millisecond, 0, func(*Timer, Event) {
		closeErr = l.Close()
	}).Start())
	require.NoError(t, runWithTimeout(t, l, 5*time.Second))

	assert.ErrorIs(t, closeErr, ErrInvalidState)
	var usage *UsageError
	require.ErrorAs(t, closeErr, &usage)
	assert.Equal(t, "Close", usage.Op)
}

func TestLoop_Default(t *testing.T) {
	a, err := Default()
	require.NoError(t, err)
	b, err := Default()
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.True(t, a.IsDefault())

	other := newTestLoop(t)
	assert.False(t, other.IsDefault())

	require.NoError(t, a.Close())
	c, err := Default()
	require.NoError(t, err)
	t.Cleanup(func() { closeTestLoop(t, c) })
	assert.NotSame(t, a, c)
	assert.True(t, c.IsDefault())
}

func TestLoop_RefUnref(t *testing.T) {
	l := newTestLoop(t)
	helper := NewAsync(l, func(*Async, Event) { t.Error("unexpected send") })
	require.NoError(t, helper.Start())
	l.Unref()

	require.NoError(t, runWithTimeout(t, l, 5*time.Second))
	assert.True(t, helper.Active())
	assert.Equal(t, 1, l.ActiveCount())

	l.Ref()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Run(ctx), context.DeadlineExceeded)
}

func TestLoop_SuspendResume(t *testing.T) {
	l := newTestLoop(t)
	timer := NewTimer(l, time.Hour, 0, nil)
	require.NoError(t, timer.Start())

	l.Suspend()
	time.Sleep(100 * time.Millisecond)
	l.Resume()

	assert.Greater(t, timer.Remaining(), time.Hour-50*time.Millisecond)
	assert.NoError(t, l.Verify())
}

func TestLoop_Fork(t *testing.T) {
	l := newTestLoop(t)
	name := l.Backend()

	forks := 0
	fork := NewFork(l, func(w *Fork, revents Event) {
		assert.Equal(t, EventFork, revents)
		forks++
	})
	require.NoError(t, fork.Start())
	require.NoError(t, l.RunNoWait(context.Background()))
	assert.Equal(t, 0, forks)

	require.NoError(t, l.Fork())
	require.NoError(t, l.RunNoWait(context.Background()))
	require.NoError(t, l.RunNoWait(context.Background()))
	assert.Equal(t, 1, forks)
	assert.Equal(t, name, l.Backend())

	// the replacement wake descriptors work
	var sent atomic.Bool
	async := NewAsync(l, func(w *Async, revents Event) {
		sent.Store(true)
		l.Stop()
	})
	require.NoError(t, async.Start())
	go async.Send()
	require.NoError(t, runWithTimeout(t, l, 5*time.Second))
	assert.True(t, sent.Load())
}

func TestLoop_InvokePendingFunc(t *testing.T) {
	l := newTestLoop(t)
	calls := 0
	require.NoError(t, l.SetInvokePendingFunc(func(l *Loop) {
		calls++
		if err := l.InvokePending(); err != nil {
			t.Error(err)
		}
	}))
	fired := false
	require.NoError(t, NewTimer(l, time.Millisecond, 0, func(*Timer, Event) { fired = true }).Start())
	require.NoError(t, runWithTimeout(t, l, 5*time.Second))
	assert.True(t, fired)
	assert.Positive(t, calls)

	require.NoError(t, l.SetInvokePendingFunc(nil))
}

func TestLoop_InvokePendingOutsideRun(t *testing.T) {
	l := newTestLoop(t)
	var got Event
	w := NewIdle(l, func(w *Idle, revents Event) { got = revents })
	require.NoError(t, w.Start())
	require.NoError(t, w.FeedEvent(EventCustom))
	assert.Equal(t, 1, l.PendingCount())

	require.NoError(t, l.InvokePending())
	assert.Equal(t, EventCustom, got)
	assert.Equal(t, 0, l.PendingCount())
}

func TestLoop_BackendInterruptedRetried(t *testing.T) {
	fb := &fakeBackend{waits: []error{ErrInterrupted, ErrInterrupted}}
	l := newTestLoop(t,
		WithBackend(func() (Backend, error) { return fb, nil }),
		WithMetrics(true),
	)
	assert.Equal(t, "fake", l.Backend())

	require.NoError(t, l.RunNoWait(context.Background()))
	assert.Equal(t, 3, fb.calls)
	m := l.Metrics()
	require.NotNil(t, m)
	assert.Equal(t, uint64(2), m.Interrupts)
	assert.Equal(t, uint64(1), m.Iterations)
}

func TestLoop_BackendErrorStopsLoop(t *testing.T) {
	boom := errors.New("boom")
	fb := &fakeBackend{waits: []error{boom}}
	logger, writer := newTestLogger(logiface.LevelDebug)
	l := newTestLoop(t,
		WithBackend(func() (Backend, error) { return fb, nil }),
		WithLogger(logger),
	)
	keepalive := NewAsync(l, nil)
	require.NoError(t, keepalive.Start())

	err := runWithTimeout(t, l, 5*time.Second)
	require.ErrorIs(t, err, boom)
	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "wait", be.Op)
	assert.Equal(t, StateIdle, l.State())
	require.NotEmpty(t, writer.events)

	// the error is not reported twice
	require.NoError(t, l.RunNoWait(context.Background()))

	require.NoError(t, keepalive.Stop())
	require.NoError(t, l.Close())
	assert.True(t, fb.closed)
}

func TestLoop_BackendFactoryError(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(WithBackend(func() (Backend, error) { return nil, boom }))
	assert.ErrorIs(t, err, boom)
}

func TestLoop_PollTimeout(t *testing.T) {
	fb := &fakeBackend{}
	l := newTestLoop(t, WithBackend(func() (Backend, error) { return fb, nil }))

	timer := NewTimer(l, 50*time.Millisecond, 0, nil)
	require.NoError(t, timer.Start())
	require.NoError(t, l.RunOnce(context.Background()))
	assert.Greater(t, fb.timeout, time.Duration(0))
	assert.LessOrEqual(t, fb.timeout, 50*time.Millisecond)

	idle := NewIdle(l, nil)
	require.NoError(t, idle.Start())
	require.NoError(t, l.RunOnce(context.Background()))
	assert.Equal(t, time.Duration(0), fb.timeout)
	require.NoError(t, idle.Stop())

	require.NoError(t, timer.Stop())
	require.NoError(t, NewAsync(l, nil).Start())
	require.NoError(t, l.RunOnce(context.Background()))
	assert.Equal(t, maxBlockTime, fb.timeout)
}

func TestLoop_TimeoutCollectInterval(t *testing.T) {
	fb := &fakeBackend{}
	l := newTestLoop(t,
		WithBackend(func() (Backend, error) { return fb, nil }),
		WithTimeoutCollectInterval(20*time.Millisecond),
	)
	require.NoError(t, NewTimer(l, time.Millisecond, 0, nil).Start())
	require.NoError(t, l.RunOnce(context.Background()))
	assert.Equal(t, 20*time.Millisecond, fb.timeout)
}

func TestLoop_DataAndNow(t *testing.T) {
	l := newTestLoop(t)
	l.SetData(42)
	assert.Equal(t, 42, l.Data())

	before := l.Now()
	time.Sleep(2 * time.Millisecond)
	l.UpdateNow()
	assert.True(t, l.Now().After(before))
}

func TestLoop_MetricsDisabled(t *testing.T) {
	l := newTestLoop(t)
	assert.Nil(t, l.Metrics())
}

func TestLoop_Metrics(t *testing.T) {
	l := newTestLoop(t, WithMetrics(true))
	timer := NewTimer(l, time.Millisecond, time.Millisecond, nil)
	n := 0
	timer.SetCallback(func(w *Timer, revents Event) {
		if n++; n == 5 {
			w.Stop()
		}
	})
	require.NoError(t, timer.Start())
	require.NoError(t, runWithTimeout(t, l, 5*time.Second))

	m := l.Metrics()
	require.NotNil(t, m)
	assert.Equal(t, uint64(5), m.Dispatched)
	assert.Equal(t, 5, m.Latency.Samples)
	assert.GreaterOrEqual(t, m.Iterations, uint64(5))
	assert.Equal(t, int64(0), m.ActiveWatchers)
}
