package localloop

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
)

// Interest is the set of readiness directions a registration subscribes to.
type Interest uint8

const (
	// Readable subscribes to "the source can be read without blocking".
	Readable Interest = 1 << iota
	// Writable subscribes to "the source can be written without blocking".
	Writable
)

// Readiness is the set of readiness conditions observed on a source.
type Readiness uint8

const (
	// ReadyRead indicates the source is ready for reading.
	ReadyRead Readiness = 1 << iota
	// ReadyWrite indicates the source is ready for writing.
	ReadyWrite
	// ReadyError indicates an error condition on the source.
	ReadyError
	// ReadyHangup indicates the peer closed its end.
	ReadyHangup
)

// readMask and writeMask are the readiness bits delivered to the read and
// write bindings respectively. Error and hangup conditions wake both sides.
const (
	readMask  = ReadyRead | ReadyError | ReadyHangup
	writeMask = ReadyWrite | ReadyError | ReadyHangup
)

// Source is an I/O source exposing a native pollable descriptor. The
// reactor never owns the source itself; it only tracks interest in its
// readiness. Closing the descriptor while registered is a caller bug:
// deregister first.
type Source interface {
	PollFd() int
}

var errReactorClosed = errors.New("localloop: reactor closed")

// binding is one armed direction (read or write) of a descriptor.
type binding struct {
	wake   func()
	owner  *Registration // nil for internal bindings (wake pipe)
	ready  Readiness     // latched readiness, cleared via Registration
	active bool
}

// regEntry tracks the armed directions for one descriptor.
type regEntry struct {
	read      binding
	write     binding
	interest  Interest // union of armed directions
	inBackend bool
}

// Reactor owns registrations of I/O sources and their interest masks, and
// performs a single blocking poll bounded by a caller-supplied timeout,
// dispatching readiness to registered wakers. It is exclusively owned by
// the loop goroutine; Poll is the only blocking operation in the runtime.
type Reactor struct {
	p      poller
	fds    []regEntry // direct fd indexing
	logger *logiface.Logger[logiface.Event]
	closed bool
}

func newReactor(eventCapacity int, logger *logiface.Logger[logiface.Event]) (*Reactor, error) {
	r := &Reactor{logger: logger}
	if err := r.p.init(eventCapacity); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reactor) close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.p.close()
}

// Registration binds an I/O source to an interest mask and a waker for the
// registration's lifetime. It is a weak association: dropping it does not
// close or otherwise affect the source.
type Registration struct {
	r        *Reactor
	src      Source
	fd       int
	interest Interest
	dead     bool
}

// Register declares interest in src's readiness, waking waker on each
// readiness event observed. It fails with a [*RegistrationError] if the
// source's descriptor is invalid or a registration with overlapping
// interest already exists for it. Distinct registrations may cover the
// read and write directions of the same source independently.
func (r *Reactor) Register(src Source, interest Interest, waker Waker) (*Registration, error) {
	rg := &Registration{r: r, src: src, interest: interest}
	fd := src.PollFd()
	rg.fd = fd
	if err := r.register(rg, fd, interest, waker.Wake); err != nil {
		return nil, err
	}
	return rg, nil
}

func (r *Reactor) register(rg *Registration, fd int, interest Interest, wake func()) error {
	if r.closed {
		return &RegistrationError{Op: "register", Fd: fd, Cause: errReactorClosed}
	}
	if fd < 0 {
		return &RegistrationError{Op: "register", Fd: fd, Cause: errInvalidSource}
	}
	if interest&(Readable|Writable) == 0 {
		return &RegistrationError{Op: "register", Fd: fd, Cause: errInvalidSource}
	}

	r.grow(fd)
	e := &r.fds[fd]
	if e.interest&interest != 0 {
		return &RegistrationError{Op: "register", Fd: fd, Cause: errDuplicateSource}
	}

	combined := e.interest | interest
	var err error
	if e.inBackend {
		err = r.p.mod(fd, e.interest, combined)
	} else {
		err = r.p.add(fd, combined)
	}
	if err != nil {
		return &RegistrationError{Op: "register", Fd: fd, Cause: err}
	}

	if interest&Readable != 0 {
		e.read = binding{wake: wake, owner: rg, active: true}
	}
	if interest&Writable != 0 {
		e.write = binding{wake: wake, owner: rg, active: true}
	}
	e.interest = combined
	e.inBackend = true
	return nil
}

// registerInternal arms fd with a raw wake callback, bypassing the
// Registration surface. Used for the runtime's wake pipe.
func (r *Reactor) registerInternal(fd int, interest Interest, wake func()) error {
	return r.register(nil, fd, interest, wake)
}

func (r *Reactor) grow(fd int) {
	if fd < len(r.fds) {
		return
	}
	newFds := make([]regEntry, fd*2+1)
	copy(newFds, r.fds)
	r.fds = newFds
}

// Reregister updates the registration's interest mask atomically with
// respect to the next poll: the backend is level-triggered, so readiness
// that persists across the update is re-observed rather than lost. Latched
// readiness is preserved for directions the registration keeps. Fails with
// a [*RegistrationError] if the handle is stale or the new interest
// conflicts with another registration on the same source.
func (rg *Registration) Reregister(interest Interest) error {
	r := rg.r
	fd := rg.fd
	if rg.dead {
		return &RegistrationError{Op: "reregister", Fd: fd, Cause: errStaleHandle}
	}
	if interest&(Readable|Writable) == 0 {
		return &RegistrationError{Op: "reregister", Fd: fd, Cause: errInvalidSource}
	}

	e := &r.fds[fd]
	// Directions gained must not be owned by someone else.
	gained := interest &^ rg.interest
	if gained&e.interest != 0 {
		return &RegistrationError{Op: "reregister", Fd: fd, Cause: errDuplicateSource}
	}

	combined := (e.interest &^ rg.interest) | interest
	if err := r.p.mod(fd, e.interest, combined); err != nil {
		return &RegistrationError{Op: "reregister", Fd: fd, Cause: err}
	}

	wake := rg.wakeFunc(e)
	if interest&Readable != 0 {
		if rg.interest&Readable == 0 {
			e.read = binding{wake: wake, owner: rg, active: true}
		}
	} else if rg.interest&Readable != 0 {
		e.read = binding{}
	}
	if interest&Writable != 0 {
		if rg.interest&Writable == 0 {
			e.write = binding{wake: wake, owner: rg, active: true}
		}
	} else if rg.interest&Writable != 0 {
		e.write = binding{}
	}
	e.interest = combined
	rg.interest = interest
	return nil
}

// wakeFunc recovers the registration's wake callback from whichever of its
// bindings is currently armed.
func (rg *Registration) wakeFunc(e *regEntry) func() {
	if e.read.owner == rg && e.read.wake != nil {
		return e.read.wake
	}
	if e.write.owner == rg && e.write.wake != nil {
		return e.write.wake
	}
	return func() {}
}

// Deregister removes the registration's interest. Idempotent: repeated
// calls, and calls after the reactor closed, are no-ops.
func (rg *Registration) Deregister() {
	if rg.dead {
		return
	}
	rg.dead = true
	r := rg.r
	if r.closed || rg.fd >= len(r.fds) {
		return
	}
	e := &r.fds[rg.fd]
	if e.read.owner == rg {
		e.read = binding{}
	}
	if e.write.owner == rg {
		e.write = binding{}
	}
	remaining := e.interest &^ rg.interest
	if remaining == 0 {
		// Delete errors are ignored: the descriptor may already be gone.
		_ = r.p.del(rg.fd, e.interest)
		e.inBackend = false
	} else {
		_ = r.p.mod(rg.fd, e.interest, remaining)
	}
	e.interest = remaining
}

// Readiness returns the readiness latched for this registration since it
// was last cleared. Stale handles report zero.
func (rg *Registration) Readiness() Readiness {
	if rg.dead || rg.fd >= len(rg.r.fds) {
		return 0
	}
	e := &rg.r.fds[rg.fd]
	var rd Readiness
	if e.read.owner == rg {
		rd |= e.read.ready
	}
	if e.write.owner == rg {
		rd |= e.write.ready
	}
	return rd
}

// ClearReadiness clears the given latched readiness bits, re-arming the
// registration's edge for the next poll.
func (rg *Registration) ClearReadiness(mask Readiness) {
	if rg.dead || rg.fd >= len(rg.r.fds) {
		return
	}
	e := &rg.r.fds[rg.fd]
	if e.read.owner == rg {
		e.read.ready &^= mask
	}
	if e.write.owner == rg {
		e.write.ready &^= mask
	}
}

// Poll blocks the calling goroutine for at most timeout waiting for at
// least one registered source to become ready, or for the timeout to
// elapse. A negative timeout blocks indefinitely; a zero timeout returns
// immediately. For each readiness event observed, the binding's waker is
// invoked exactly once; the backend is level-triggered, so a source that
// remains ready and registered re-notifies on the next poll.
//
// Returns the number of readiness events dispatched (zero on pure
// timeout). Fails with a [*ReactorError] only on unrecoverable backend
// faults; such an error is fatal to the runtime loop.
func (r *Reactor) Poll(timeout time.Duration) (int, error) {
	if r.closed {
		return 0, &ReactorError{Op: "poll", Cause: errReactorClosed}
	}
	n, err := r.p.wait(timeoutToMillis(timeout), r.dispatch)
	if err != nil {
		return 0, &ReactorError{Op: "poll", Cause: err}
	}
	return n, nil
}

// dispatch latches readiness onto the matching bindings and invokes their
// wakers. Runs on the loop goroutine, inline with the poll.
func (r *Reactor) dispatch(fd int, rd Readiness) {
	if fd < 0 || fd >= len(r.fds) {
		return
	}
	e := &r.fds[fd]
	if e.read.active && rd&readMask != 0 {
		e.read.ready |= rd & readMask
		e.read.wake()
	}
	if e.write.active && rd&writeMask != 0 {
		e.write.ready |= rd & writeMask
		e.write.wake()
	}
}

// timeoutToMillis converts a poll timeout to backend milliseconds:
// negative means forever (-1), zero means non-blocking, and sub-millisecond
// positive values round up to 1ms so a positive timeout never busy-spins.
func timeoutToMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	if timeout == 0 {
		return 0
	}
	// Round up so a positive timeout never returns before the deadline and
	// never busy-spins at sub-millisecond granularity.
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}
