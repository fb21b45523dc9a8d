package localloop

// IOHandle is a persistent registration of a source, for tasks that wait
// on the same source repeatedly without re-registering for each wait. The
// registration wakes the task that opened the handle; readiness is latched
// on the registration until cleared.
type IOHandle struct {
	reg *Registration
}

// OpenIO registers src with the given interest on behalf of the task being
// polled. The caller owns the handle and must Close it when done; wrap the
// owning future with a [Disposer] that does so.
func OpenIO(cx *Context, src Source, interest Interest) (*IOHandle, error) {
	reg, err := cx.Reactor().Register(src, interest, cx.Waker())
	if err != nil {
		return nil, err
	}
	return &IOHandle{reg: reg}, nil
}

// Readiness returns the readiness latched since it was last cleared.
func (h *IOHandle) Readiness() Readiness { return h.reg.Readiness() }

// ClearReadiness clears latched readiness bits, re-arming the handle for
// the next poll, typically after a read or write returned EAGAIN.
func (h *IOHandle) ClearReadiness(mask Readiness) { h.reg.ClearReadiness(mask) }

// Reregister updates the handle's interest mask.
func (h *IOHandle) Reregister(interest Interest) error { return h.reg.Reregister(interest) }

// Close releases the registration. Idempotent.
func (h *IOHandle) Close() { h.reg.Deregister() }

// AwaitReady returns a future that completes once any of the bits in mask
// is latched on the handle. Poll it from the task that opened the handle;
// the underlying registration wakes that task.
func (h *IOHandle) AwaitReady(mask Readiness) Future {
	return PollFunc(func(cx *Context) bool {
		return h.reg.Readiness()&mask != 0
	})
}

// IOFuture is a one-shot future completing when its source first reports
// readiness in the requested direction. Error and hangup conditions also
// complete it, carried in the readiness mask; a failed registration
// completes it with the error available via Err.
//
// The registration is created on the first poll and torn down on
// completion, so a completed IOFuture leaves no residue in the reactor.
// The source's descriptor must stay open until then.
type IOFuture struct {
	src      Source
	interest Interest
	reg      *Registration
	ready    Readiness
	err      error
	done     bool
}

// AwaitReadable returns a future that completes once src polls readable.
func AwaitReadable(src Source) *IOFuture {
	return &IOFuture{src: src, interest: Readable}
}

// AwaitWritable returns a future that completes once src polls writable.
func AwaitWritable(src Source) *IOFuture {
	return &IOFuture{src: src, interest: Writable}
}

func (f *IOFuture) Poll(cx *Context) bool {
	if f.done {
		return true
	}
	if f.reg == nil {
		reg, err := cx.Reactor().Register(f.src, f.interest, cx.Waker())
		if err != nil {
			f.err = err
			f.done = true
			return true
		}
		f.reg = reg
		return false
	}

	mask := readMask
	if f.interest == Writable {
		mask = writeMask
	}
	if rd := f.reg.Readiness() & mask; rd != 0 {
		f.ready = rd
		f.done = true
		f.reg.Deregister()
		f.reg = nil
		return true
	}
	return false
}

// Dispose tears down the registration if the future is abandoned before
// readiness arrives, e.g. on task cancellation.
func (f *IOFuture) Dispose() {
	if f.reg != nil {
		f.reg.Deregister()
		f.reg = nil
	}
}

// Readiness reports the readiness mask that completed the future. Zero
// until completion, or if the future completed with an error.
func (f *IOFuture) Readiness() Readiness { return f.ready }

// Err reports the registration error that completed the future, if any.
func (f *IOFuture) Err() error { return f.err }
