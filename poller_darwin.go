//go:build darwin

package evloop

import (
	"time"

	"golang.org/x/sys/unix"
)

// kqueueBackend implements Backend using kqueue.
type kqueueBackend struct {
	kq       int
	eventBuf [256]unix.Kevent_t
	interest map[int]Event
	closed   bool
}

func newPlatformBackend() (Backend, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueueBackend{kq: kq, interest: make(map[int]Event)}, nil
}

func (p *kqueueBackend) Name() string { return "kqueue" }

func (p *kqueueBackend) FD() int {
	if p.closed {
		return -1
	}
	return p.kq
}

func (p *kqueueBackend) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.kq)
}

func (p *kqueueBackend) Add(fd int, events Event) error {
	return p.Modify(fd, events)
}

func (p *kqueueBackend) Modify(fd int, events Event) error {
	old := p.interest[fd]
	if del := old &^ events; del != 0 {
		_, _ = unix.Kevent(p.kq, eventsToKevents(fd, del, unix.EV_DELETE), nil, nil) // Ignore errors
	}
	if add := events &^ old; add != 0 {
		if _, err := unix.Kevent(p.kq, eventsToKevents(fd, add, unix.EV_ADD|unix.EV_ENABLE), nil, nil); err != nil {
			return err
		}
	}
	p.interest[fd] = events
	return nil
}

func (p *kqueueBackend) Remove(fd int) error {
	if events, ok := p.interest[fd]; ok {
		delete(p.interest, fd)
		_, _ = unix.Kevent(p.kq, eventsToKevents(fd, events, unix.EV_DELETE), nil, nil) // Ignore errors on delete
	}
	return nil
}

func (p *kqueueBackend) Wait(timeout time.Duration, ready func(fd int, events Event)) error {
	var ts *unix.Timespec
	if ms := timeoutMillis(timeout); ms >= 0 {
		t := unix.NsecToTimespec(int64(ms) * int64(time.Millisecond))
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return ErrInterrupted
		}
		return err
	}
	for i := 0; i < n; i++ {
		ready(int(p.eventBuf[i].Ident), keventToEvents(&p.eventBuf[i]))
	}
	return nil
}

func eventsToKevents(fd int, events Event, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if events&EventRead != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}
	if events&EventWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}
	return kevents
}

func keventToEvents(kev *unix.Kevent_t) Event {
	var events Event
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0 {
		events |= EventRead | EventWrite
	}
	return events
}
