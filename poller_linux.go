//go:build linux

package localloop

import (
	"golang.org/x/sys/unix"
)

// poller is the epoll-based readiness backend (Linux).
type poller struct {
	epfd     int
	eventBuf []unix.EpollEvent
}

func (p *poller) init(eventCapacity int) error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = epfd
	p.eventBuf = make([]unix.EpollEvent, eventCapacity)
	return nil
}

func (p *poller) close() error {
	return unix.Close(p.epfd)
}

func (p *poller) add(fd int, interest Interest) error {
	ev := &unix.EpollEvent{
		Events: interestToEpoll(interest),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev)
}

// mod replaces the armed event mask. epoll tracks the full mask per fd, so
// the previous interest is unused here (the kqueue backend needs it).
func (p *poller) mod(fd int, _, interest Interest) error {
	ev := &unix.EpollEvent{
		Events: interestToEpoll(interest),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *poller) del(fd int, _ Interest) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks for up to ms milliseconds (-1 = forever) and delivers each
// observed readiness event. An interrupted wait is reported as zero events.
func (p *poller) wait(ms int, deliver func(fd int, rd Readiness)) (int, error) {
	n, err := unix.EpollWait(p.epfd, p.eventBuf, ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		deliver(int(p.eventBuf[i].Fd), epollToReadiness(p.eventBuf[i].Events))
	}
	return n, nil
}

func interestToEpoll(interest Interest) uint32 {
	var events uint32
	if interest&Readable != 0 {
		events |= unix.EPOLLIN
	}
	if interest&Writable != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

func epollToReadiness(events uint32) Readiness {
	var rd Readiness
	if events&unix.EPOLLIN != 0 {
		rd |= ReadyRead
	}
	if events&unix.EPOLLOUT != 0 {
		rd |= ReadyWrite
	}
	if events&unix.EPOLLERR != 0 {
		rd |= ReadyError
	}
	if events&unix.EPOLLHUP != 0 {
		rd |= ReadyHangup
	}
	return rd
}
