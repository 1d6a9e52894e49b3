package evloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
)

// newTestLoop creates a loop that is torn down when the test ends.
func newTestLoop(t *testing.T, opts ...LoopOption) *Loop {
	t.Helper()
	l, err := New(opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { closeTestLoop(t, l) })
	return l
}

func closeTestLoop(t *testing.T, l *Loop) {
	t.Helper()
	if l.state.IsClosed() {
		return
	}
	for _, w := range l.Watchers() {
		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	}
	if err := l.Close(); err != nil && !errors.Is(err, ErrLoopClosed) {
		t.Errorf("Close failed: %v", err)
	}
}

// runWithTimeout runs l, failing the test if it does not return in time.
func runWithTimeout(t *testing.T, l *Loop, timeout time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := l.Run(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run did not return within %v", timeout)
	}
	return err
}

// withHook installs a callback error hook for the duration of the test.
func withHook(t *testing.T, hook func(*CallbackError)) {
	t.Helper()
	prev := SetCallbackErrorHook(hook)
	t.Cleanup(func() { SetCallbackErrorHook(prev) })
}

// testEvent is a minimal logiface.Event implementation for testing the
// structured logging paths.
type testEvent struct {
	logiface.UnimplementedEvent
	fields map[string]any
	msg    string
	level  logiface.Level
}

func (e *testEvent) Level() logiface.Level { return e.level }

func (e *testEvent) AddField(key string, val any) {
	if e.fields == nil {
		e.fields = make(map[string]any)
	}
	e.fields[key] = val
}

func (e *testEvent) AddMessage(msg string) bool {
	e.msg = msg
	return true
}

// testEventFactory creates testEvent instances.
type testEventFactory struct{}

func (f *testEventFactory) NewEvent(level logiface.Level) *testEvent {
	return &testEvent{level: level}
}

// testEventWriter captures written events.
type testEventWriter struct {
	events []*testEvent
}

func (w *testEventWriter) Write(event *testEvent) error {
	w.events = append(w.events, event)
	return nil
}

func newTestLogger(level logiface.Level) (*logiface.Logger[logiface.Event], *testEventWriter) {
	writer := &testEventWriter{}
	typedLogger := logiface.New[*testEvent](
		logiface.WithEventFactory[*testEvent](&testEventFactory{}),
		logiface.WithWriter[*testEvent](writer),
		logiface.WithLevel[*testEvent](level),
	)
	return typedLogger.Logger(), writer
}
