//go:build linux

package socketset

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is grounded on the teacher's
// tools/twamp/pkg/light/sender_linux.go epoll_create1/epoll_ctl/epoll_wait
// usage, extended to track per-fd write-interest toggling.
type epollPoller struct {
	epfd   int
	events map[int]bool // fd -> writable registered
}

func newPlatformPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("socketset: epoll_create1: %w", err)
	}
	return &epollPoller{epfd: epfd, events: make(map[int]bool)}, nil
}

func (p *epollPoller) Register(fd int) error {
	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return fmt.Errorf("socketset: epoll_ctl(ADD, %d): %w", fd, err)
	}
	p.events[fd] = false
	return nil
}

func (p *epollPoller) Unregister(fd int) error {
	delete(p.events, fd)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("socketset: epoll_ctl(DEL, %d): %w", fd, err)
	}
	return nil
}

func (p *epollPoller) SetWritable(fd int, want bool) error {
	cur, ok := p.events[fd]
	if !ok || cur == want {
		return nil
	}
	events := uint32(unix.EPOLLIN)
	if want {
		events |= unix.EPOLLOUT
	}
	ev := &unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return fmt.Errorf("socketset: epoll_ctl(MOD, %d): %w", fd, err)
	}
	p.events[fd] = want
	return nil
}

func (p *epollPoller) Wait(timeout time.Duration) ([]PollEvent, error) {
	ms := int(timeout.Milliseconds())
	if timeout < 0 {
		ms = -1
	}
	raw := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(p.epfd, raw, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("socketset: epoll_wait: %w", err)
	}
	out := make([]PollEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, PollEvent{
			FD:       int(raw[i].Fd),
			Readable: raw[i].Events&unix.EPOLLIN != 0,
			Writable: raw[i].Events&unix.EPOLLOUT != 0,
		})
	}
	return out, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
