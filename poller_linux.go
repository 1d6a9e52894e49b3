//go:build linux

package evloop

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// epollBackend implements Backend using epoll.
type epollBackend struct { // betteralign:ignore
	_        [64]byte             // Cache line padding //nolint:unused
	epfd     int                  // epoll file descriptor
	eventBuf [256]unix.EpollEvent // preallocated
	closed   bool
}

func newPlatformBackend() (Backend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollBackend{epfd: epfd}, nil
}

func (p *epollBackend) Name() string { return "epoll" }

func (p *epollBackend) FD() int {
	if p.closed {
		return -1
	}
	return p.epfd
}

func (p *epollBackend) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.epfd)
}

func (p *epollBackend) Add(fd int, events Event) error {
	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	if errors.Is(err, unix.EEXIST) {
		// stale registration of a recycled descriptor
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	}
	return err
}

func (p *epollBackend) Modify(fd int, events Event) error {
	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	if errors.Is(err, unix.ENOENT) {
		// the descriptor was closed and reopened, dropping the registration
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	}
	return err
}

func (p *epollBackend) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		return nil
	}
	return err
}

func (p *epollBackend) Wait(timeout time.Duration, ready func(fd int, events Event)) error {
	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return ErrInterrupted
		}
		return err
	}
	for i := 0; i < n; i++ {
		ready(int(p.eventBuf[i].Fd), epollToEvents(p.eventBuf[i].Events))
	}
	return nil
}

// eventsToEpoll converts an interest mask to epoll event flags.
func eventsToEpoll(events Event) uint32 {
	var epollEvents uint32
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to a readiness mask. Errors and
// hangups wake both readers and writers, which then observe the condition
// through their own syscalls.
func epollToEvents(epollEvents uint32) Event {
	var events Event
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		events |= EventRead | EventWrite
	}
	return events
}
