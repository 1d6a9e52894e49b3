//go:build linux || darwin

package evloop

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

func (l *Loop) watchChildren() error {
	if l.childSig == nil {
		l.childSig = openSignalSlot(l, unix.SIGCHLD, &l.childPending)
	}
	return nil
}

func (l *Loop) unwatchChildren() {
	if l.childSig != nil {
		l.childSig.close()
		l.childSig = nil
	}
}

// reapChildren collects status changes without blocking. Specific processes
// are waited on individually, so that children nobody watches are left for
// other code to reap, unless a watcher for any child exists.
func (l *Loop) reapChildren() {
	var (
		anyChild   bool
		traceAny   bool
		pids       = make(map[int]bool)
		candidates []int
	)
	for _, b := range l.children {
		w := b.self.(*Child)
		if w.pid == 0 {
			anyChild = true
			traceAny = traceAny || w.trace
			continue
		}
		if _, ok := pids[w.pid]; !ok {
			candidates = append(candidates, w.pid)
		}
		pids[w.pid] = pids[w.pid] || w.trace
	}

	var reaped bool
	for _, pid := range candidates {
		reaped = l.reap(pid, pids[pid] || traceAny) || reaped
	}
	if anyChild && !reaped {
		reaped = l.reap(-1, traceAny)
	}
	if reaped {
		// at most one status per watcher per iteration, the rest are
		// collected by the next
		l.childPending.Store(true)
	}
}

// reap waits on pid once, delivering any status change. It reports whether
// a change was found.
func (l *Loop) reap(pid int, trace bool) bool {
	options := unix.WNOHANG
	if trace {
		options |= unix.WUNTRACED | unix.WCONTINUED
	}
	var ws unix.WaitStatus
	for {
		rpid, err := unix.Wait4(pid, &ws, options, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			if !errors.Is(err, unix.ECHILD) {
				l.logger.Warning().Int(`pid`, pid).Err(err).Log(`failed to reap child`)
			}
			return false
		}
		if rpid <= 0 {
			return false
		}
		l.deliverChild(rpid, syscall.WaitStatus(ws))
		return true
	}
}
