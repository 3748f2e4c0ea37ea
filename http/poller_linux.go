//go:build linux

package http

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

type interest uint32

const (
	interestReadable interest = unix.EPOLLIN | unix.EPOLLRDHUP
	interestWritable interest = unix.EPOLLOUT
)

type event struct {
	token    Token
	readable bool
	writable bool
}

// poller is a level-triggered epoll instance. The token rides in the event data.
type poller struct {
	fd     int
	events []unix.EpollEvent
	ready  []event
}

func newPoller(capacity int) (*poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &poller{
		fd:     fd,
		events: make([]unix.EpollEvent, capacity),
		ready:  make([]event, 0, capacity),
	}, nil
}

func (p *poller) register(fd int, token Token, in interest) error {
	ev := epollEvent(token, in)
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev))
}

func (p *poller) reregister(fd int, token Token, in interest) error {
	ev := epollEvent(token, in)
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev))
}

func (p *poller) deregister(fd int) error {
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil))
}

// wait blocks for at most timeout. An interrupted wait yields no events and no error.
func (p *poller) wait(timeout time.Duration) ([]event, error) {
	n, err := unix.EpollWait(p.fd, p.events, int(timeout.Milliseconds()))
	if err != nil {
		if interrupted(err) {
			return p.ready[:0], nil
		}
		return nil, os.NewSyscallError("epoll_wait", err)
	}

	p.ready = p.ready[:0]
	for _, ev := range p.events[:n] {
		p.ready = append(p.ready, event{
			token:    Token(uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32),
			readable: ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			writable: ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0,
		})
	}
	return p.ready, nil
}

func (p *poller) Close() error {
	return unix.Close(p.fd)
}

func epollEvent(token Token, in interest) unix.EpollEvent {
	return unix.EpollEvent{
		Events: uint32(in),
		Fd:     int32(uint32(token)),
		Pad:    int32(uint32(token >> 32)),
	}
}
