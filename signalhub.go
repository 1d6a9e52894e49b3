package evloop

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
)

// signalOwners maps each signal watched by a Signal watcher to its loop.
var signalOwners struct {
	sync.Mutex
	m map[os.Signal]*Loop
}

// signalSlot forwards deliveries of one signal to a loop. The channel is
// serviced by a goroutine that only touches atomics.
type signalSlot struct {
	sig      os.Signal
	ch       chan os.Signal
	done     chan struct{}
	watchers watcherList
	fired    atomic.Bool
}

// openSignalSlot starts forwarding sig to l, setting flag on delivery.
func openSignalSlot(l *Loop, sig os.Signal, flag *atomic.Bool) *signalSlot {
	s := &signalSlot{
		sig:  sig,
		ch:   make(chan os.Signal, 1),
		done: make(chan struct{}),
	}
	signal.Notify(s.ch, sig)
	go s.forward(l, flag)
	return s
}

func (s *signalSlot) forward(l *Loop, flag *atomic.Bool) {
	for {
		select {
		case <-s.done:
			return
		case <-s.ch:
			s.fired.Store(true)
			flag.Store(true)
			l.wakeup()
		}
	}
}

// close stops forwarding. Deliveries already forwarded remain flagged.
func (s *signalSlot) close() {
	signal.Stop(s.ch)
	close(s.done)
}

// claimSignal records l as the owner of sig.
func claimSignal(l *Loop, sig os.Signal) error {
	signalOwners.Lock()
	defer signalOwners.Unlock()
	if owner, ok := signalOwners.m[sig]; ok && owner != l {
		return ErrSignalInUse
	}
	if signalOwners.m == nil {
		signalOwners.m = make(map[os.Signal]*Loop)
	}
	signalOwners.m[sig] = l
	return nil
}

func releaseSignal(l *Loop, sig os.Signal) {
	signalOwners.Lock()
	defer signalOwners.Unlock()
	if signalOwners.m[sig] == l {
		delete(signalOwners.m, sig)
	}
}

// processSignals queues the watchers of every signal that fired.
func (l *Loop) processSignals() {
	for _, s := range l.signals {
		if !s.fired.Swap(false) {
			continue
		}
		for _, w := range s.watchers {
			l.feed(w, EventSignal)
		}
	}
}
