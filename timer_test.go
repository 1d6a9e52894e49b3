package evloop

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTimer_RepeatDoesNotDrift(t *testing.T) {
	l := newTestLoop(t)

	const (
		interval = 10 * time.Millisecond
		count    = 10
	)
	var fires []time.Time
	timer := NewTimer(l, interval, interval, func(w *Timer, revents Event) {
		fires = append(fires, time.Now())
		if len(fires) == 2 {
			// a slow callback must not push back later deadlines
			time.Sleep(interval / 2)
		}
		if len(fires) == count {
			w.Stop()
		}
	})
	start := time.Now()
	if err := timer.Start(); err != nil {
		t.Fatal(err)
	}
	if err := runWithTimeout(t, l, 5*time.Second); err != nil {
		t.Fatal(err)
	}

	if len(fires) != count {
		t.Fatalf("expected %d fires, got %d", count, len(fires))
	}
	for i, at := range fires {
		if earliest := start.Add(time.Duration(i+1) * interval); at.Before(earliest) {
			t.Errorf("fire %d early: %v before %v", i, at.Sub(start), earliest.Sub(start))
		}
	}
	// deadlines advance by interval from the previous deadline, so the total
	// is bounded by count*interval plus scheduling slack, not the sum of the
	// callback delays
	if elapsed := fires[count-1].Sub(start); elapsed > count*interval+200*time.Millisecond {
		t.Errorf("timer drifted: %v", elapsed)
	}
}

func TestTimer_OneShotInactiveInCallback(t *testing.T) {
	l := newTestLoop(t)
	var active, pending bool
	timer := NewTimer(l, time.Millisecond, 0, func(w *Timer, revents Event) {
		active, pending = w.Active(), w.Pending()
	})
	if err := timer.Start(); err != nil {
		t.Fatal(err)
	}
	if err := runWithTimeout(t, l, 5*time.Second); err != nil {
		t.Fatal(err)
	}
	if active || pending {
		t.Fatalf("active=%v pending=%v", active, pending)
	}
	if timer.Remaining() != 0 {
		t.Fatalf("expected zero remaining, got %v", timer.Remaining())
	}
}

func TestTimer_RestartFromCallback(t *testing.T) {
	l := newTestLoop(t)
	n := 0
	timer := NewTimer(l, time.Millisecond, 0, nil)
	timer.SetCallback(func(w *Timer, revents Event) {
		if n++; n < 3 {
			if err := w.Start(); err != nil {
				t.Error(err)
			}
		}
	})
	if err := timer.Start(); err != nil {
		t.Fatal(err)
	}
	if err := runWithTimeout(t, l, 5*time.Second); err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 fires, got %d", n)
	}
}

func TestTimer_Again(t *testing.T) {
	l := newTestLoop(t)
	timer := NewTimer(l, time.Hour, 0, nil)

	// inactive and not repeating: no-op
	if err := timer.Again(); err != nil {
		t.Fatal(err)
	}
	if timer.Active() {
		t.Fatal("expected inactive")
	}

	if err := timer.SetRepeat(time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := timer.Again(); err != nil {
		t.Fatal(err)
	}
	if !timer.Active() {
		t.Fatal("expected active")
	}
	if r := timer.Remaining(); r <= 59*time.Second || r > time.Minute {
		t.Fatalf("unexpected remaining: %v", r)
	}

	// repeat is a parameter, fixed while active
	if err := timer.SetRepeat(time.Hour); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if timer.Repeat() != time.Minute {
		t.Fatalf("unexpected repeat: %v", timer.Repeat())
	}

	// active: re-armed from now, using repeat
	if err := timer.FeedEvent(EventTimer); err != nil {
		t.Fatal(err)
	}
	if err := timer.Again(); err != nil {
		t.Fatal(err)
	}
	if timer.Pending() {
		t.Fatal("Again should clear the pending invocation")
	}
	if r := timer.Remaining(); r <= 59*time.Second || r > time.Minute {
		t.Fatalf("unexpected remaining: %v", r)
	}

	// active and not repeating: stopped
	if err := timer.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := timer.SetRepeat(0); err != nil {
		t.Fatal(err)
	}
	if err := timer.Start(); err != nil {
		t.Fatal(err)
	}
	if err := timer.Again(); err != nil {
		t.Fatal(err)
	}
	if timer.Active() {
		t.Fatal("expected inactive")
	}
	if err := l.Verify(); err != nil {
		t.Fatal(err)
	}
}

func TestTimer_InactivityTimeout(t *testing.T) {
	l := newTestLoop(t)

	timedOut := false
	timeout := NewTimer(l, 0, 30*time.Millisecond, func(w *Timer, revents Event) {
		timedOut = true
		w.Stop()
	})
	if err := timeout.Again(); err != nil {
		t.Fatal(err)
	}

	// activity every 5ms, for a while, keeps resetting the timeout
	activity := 0
	tick := NewTimer(l, 5*time.Millisecond, 5*time.Millisecond, nil)
	tick.SetCallback(func(w *Timer, revents Event) {
		if timedOut {
			t.Error("timed out during activity")
		}
		if activity++; activity == 10 {
			w.Stop()
			return
		}
		if err := timeout.Again(); err != nil {
			t.Error(err)
		}
	})
	if err := tick.Start(); err != nil {
		t.Fatal(err)
	}

	if err := runWithTimeout(t, l, 5*time.Second); err != nil {
		t.Fatal(err)
	}
	if !timedOut {
		t.Fatal("expected timeout after activity ceased")
	}
}

func TestTimer_NegativeAfterFiresImmediately(t *testing.T) {
	l := newTestLoop(t)
	fired := false
	timer := NewTimer(l, -time.Second, -time.Second, func(*Timer, Event) { fired = true })
	if timer.Repeat() != 0 {
		t.Fatalf("negative repeat should be zero, got %v", timer.Repeat())
	}
	if err := timer.Start(); err != nil {
		t.Fatal(err)
	}
	if err := l.RunNoWait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !fired {
		t.Fatal("expected fire")
	}
}

func TestTimer_StopCancelsPending(t *testing.T) {
	l := newTestLoop(t)
	fired := false
	timer := NewTimer(l, time.Hour, 0, func(*Timer, Event) { fired = true })
	if err := timer.Start(); err != nil {
		t.Fatal(err)
	}
	if err := timer.FeedEvent(EventTimer); err != nil {
		t.Fatal(err)
	}
	if err := timer.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := l.InvokePending(); err != nil {
		t.Fatal(err)
	}
	if fired {
		t.Fatal("stopped timer fired")
	}
}
