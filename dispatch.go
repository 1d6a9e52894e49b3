package evloop

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"
)

var callbackErrorHook atomic.Pointer[func(*CallbackError)]

// SetCallbackErrorHook installs a process-wide handler for panics recovered
// from watcher callbacks, returning the previous handler. Each recovered
// panic is delivered to the hook exactly once, on the goroutine driving the
// loop, after which dispatch continues normally.
//
// With no hook installed (the default, or after installing nil), the error is
// retained by the loop: the rest of the iteration is dispatched, then every
// nested Run is ended, and the outermost Run returns the error.
func SetCallbackErrorHook(hook func(*CallbackError)) func(*CallbackError) {
	var p *func(*CallbackError)
	if hook != nil {
		p = &hook
	}
	if old := callbackErrorHook.Swap(p); old != nil {
		return *old
	}
	return nil
}

// dispatch drains q, highest priority first.
func (l *Loop) dispatch(q *pendingQueue) {
	if l.metrics != nil {
		l.metrics.pending.Update(q.live)
	}
	for {
		w, revents := q.pop()
		if w == nil {
			return
		}
		if !w.active {
			continue
		}
		if w.self.autoStop() {
			w.halt()
		}
		l.invoke(w, revents)
	}
}

// invoke runs the callback of w, recovering any panic.
func (l *Loop) invoke(w *watcher, revents Event) {
	var start time.Time
	if l.metrics != nil {
		start = time.Now()
	}
	defer func() {
		if r := recover(); r != nil {
			l.handleCallbackPanic(w, revents, r)
		}
		if l.metrics != nil {
			l.metrics.recordCallback(time.Since(start))
		}
	}()
	w.call(revents)
}

func (l *Loop) handleCallbackPanic(w *watcher, revents Event, r any) {
	err := &CallbackError{
		Watcher: w.self,
		Value:   r,
		Stack:   debug.Stack(),
		Events:  revents,
	}
	if l.metrics != nil {
		l.metrics.callbackErrors.Add(1)
	}
	l.logCallbackError(err)
	if hook := callbackErrorHook.Load(); hook != nil {
		l.callHook(*hook, err)
		return
	}
	l.cbErrs = append(l.cbErrs, err)
}

func (l *Loop) callHook(hook func(*CallbackError), err *CallbackError) {
	defer func() {
		if r := recover(); r != nil {
			l.logCritical(`callback error hook panicked`, fmt.Errorf("%v", r))
		}
	}()
	hook(err)
}

// takeErrors returns and clears the errors retained by the loop.
func (l *Loop) takeErrors() error {
	var err error
	switch {
	case l.fatal != nil && len(l.cbErrs) != 0:
		err = errors.Join(append([]error{l.fatal}, l.cbErrs...)...)
	case l.fatal != nil:
		err = l.fatal
	case len(l.cbErrs) == 1:
		err = l.cbErrs[0]
	case len(l.cbErrs) != 0:
		err = errors.Join(l.cbErrs...)
	}
	l.fatal = nil
	l.cbErrs = nil
	return err
}

// peekErrors is takeErrors without clearing.
func (l *Loop) peekErrors() error {
	fatal, cbErrs := l.fatal, l.cbErrs
	err := l.takeErrors()
	l.fatal, l.cbErrs = fatal, cbErrs
	return err
}

func (l *Loop) failed() bool {
	return l.fatal != nil || len(l.cbErrs) != 0
}
