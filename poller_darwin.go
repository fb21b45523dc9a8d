//go:build darwin

package localloop

import (
	"golang.org/x/sys/unix"
)

// poller is the kqueue-based readiness backend (Darwin). Read and write
// interests map to separate EVFILT_READ/EVFILT_WRITE filters, so interest
// changes are expressed as per-filter add/delete pairs.
type poller struct {
	kq       int
	eventBuf []unix.Kevent_t
}

func (p *poller) init(eventCapacity int) error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = kq
	p.eventBuf = make([]unix.Kevent_t, eventCapacity)
	return nil
}

func (p *poller) close() error {
	return unix.Close(p.kq)
}

func (p *poller) add(fd int, interest Interest) error {
	kevents := interestToKevents(fd, interest, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevents) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, kevents, nil, nil)
	return err
}

func (p *poller) mod(fd int, old, interest Interest) error {
	if dropped := old &^ interest; dropped != 0 {
		// Delete errors are tolerated; the filter may already be gone.
		if kevents := interestToKevents(fd, dropped, unix.EV_DELETE); len(kevents) > 0 {
			_, _ = unix.Kevent(p.kq, kevents, nil, nil)
		}
	}
	if added := interest &^ old; added != 0 {
		if kevents := interestToKevents(fd, added, unix.EV_ADD|unix.EV_ENABLE); len(kevents) > 0 {
			if _, err := unix.Kevent(p.kq, kevents, nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *poller) del(fd int, old Interest) error {
	kevents := interestToKevents(fd, old, unix.EV_DELETE)
	if len(kevents) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, kevents, nil, nil)
	return err
}

func (p *poller) wait(ms int, deliver func(fd int, rd Readiness)) (int, error) {
	var ts *unix.Timespec
	if ms >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(ms / 1000),
			Nsec: int64((ms % 1000) * 1000000),
		}
	}
	n, err := unix.Kevent(p.kq, nil, p.eventBuf, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		deliver(int(p.eventBuf[i].Ident), keventToReadiness(&p.eventBuf[i]))
	}
	return n, nil
}

func interestToKevents(fd int, interest Interest, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if interest&Readable != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}
	if interest&Writable != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}
	return kevents
}

func keventToReadiness(kev *unix.Kevent_t) Readiness {
	var rd Readiness
	switch kev.Filter {
	case unix.EVFILT_READ:
		rd |= ReadyRead
	case unix.EVFILT_WRITE:
		rd |= ReadyWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		rd |= ReadyError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		rd |= ReadyHangup
	}
	return rd
}
