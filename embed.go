package evloop

import (
	"context"
)

// Embed drives another loop from within this one, by watching the other
// loop's backend descriptor.
//
// When the other loop has events, the callback is invoked, and is expected
// to call Sweep. With a nil callback, Sweep is called automatically. Only
// descriptor readiness (including async sends) wakes the embedding loop:
// timers of the embedded loop are only handled when it is swept.
type Embed struct {
	watcher
	cb      func(w *Embed, revents Event)
	other   *Loop
	io      *IO
	prepare *Prepare
}

// NewEmbed creates an inactive embed watcher, embedding other into l.
func NewEmbed(l *Loop, other *Loop, cb func(w *Embed, revents Event)) (*Embed, error) {
	if err := validateEmbed(l, other); err != nil {
		return nil, usageError("NewEmbed", err)
	}
	w := &Embed{cb: cb, other: other}
	w.init(l, w, KindEmbed, w.invoke)
	return w, nil
}

func validateEmbed(l, other *Loop) error {
	switch {
	case other == nil:
		return ErrInvalidArgument
	case other == l:
		return ErrEmbedSelf
	case other.state.IsClosed():
		return ErrLoopClosed
	case other.backend.FD() < 0:
		return ErrBackendUnsupported
	}
	return nil
}

func (w *Embed) invoke(revents Event) {
	if w.cb != nil {
		w.cb(w, revents)
	}
}

// SetCallback replaces the callback. nil selects automatic sweeping.
func (w *Embed) SetCallback(cb func(w *Embed, revents Event)) { w.cb = cb }

// Set changes the embedded loop. The watcher must be inactive.
func (w *Embed) Set(other *Loop) error {
	if err := w.checkInactive("Embed.Set"); err != nil {
		return err
	}
	if err := validateEmbed(w.loop, other); err != nil {
		return usageError("Embed.Set", err)
	}
	w.other = other
	return nil
}

// Other returns the embedded loop.
func (w *Embed) Other() *Loop { return w.other }

// Sweep runs one non-blocking iteration of the embedded loop.
func (w *Embed) Sweep() error {
	return w.other.RunNoWait(context.Background())
}

func (w *Embed) start() error {
	if err := validateEmbed(w.loop, w.other); err != nil {
		return usageError("Embed.Start", err)
	}
	io, err := NewIO(w.loop, w.other.backend.FD(), EventRead, w.ready)
	if err != nil {
		return err
	}
	io.internal = true
	io.priority = w.priority
	// keep the other loop's interest current, so its descriptor reflects
	// watchers started since it last ran
	prepare := NewPrepare(w.loop, w.reify)
	prepare.internal = true
	if err := io.Start(); err != nil {
		return err
	}
	if err := prepare.Start(); err != nil {
		_ = io.Stop()
		return err
	}
	w.io, w.prepare = io, prepare
	return nil
}

func (w *Embed) stop() {
	if w.io != nil {
		w.io.halt()
		w.io = nil
	}
	if w.prepare != nil {
		w.prepare.halt()
		w.prepare = nil
	}
}

func (w *Embed) autoStop() bool { return false }

// ready is the callback of the internal IO watcher.
func (w *Embed) ready(_ *IO, _ Event) {
	if w.cb == nil {
		if err := w.Sweep(); err != nil {
			panic(err)
		}
		return
	}
	w.loop.feed(&w.watcher, EventEmbed)
}

// reify is the callback of the internal prepare watcher.
func (w *Embed) reify(_ *Prepare, _ Event) {
	o := w.other
	if len(o.fdChanges) == 0 || o.state.Load() != StateIdle {
		return
	}
	if err := o.reifyFDs(); err != nil {
		o.logger.Err().Err(err).Log(`failed to update embedded loop`)
	}
}
