package localloop

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/joeycumines/logiface"
)

// taskResult carries a task's terminal state across the slot boundary: the
// arena slot is recycled the moment the task completes, but the handle (and
// any goroutine holding it) may inspect the outcome afterwards.
type taskResult struct {
	err       error
	slot      uint32
	gen       uint32
	mu        sync.Mutex
	bound     bool
	done      bool
	cancelled bool
}

func (r *taskResult) cancelRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// TaskHandle is a stable, lightweight reference to a spawned task. It is
// safe to copy and safe to use from any goroutine, including after the task
// has completed.
type TaskHandle struct {
	exec *executor
	res  *taskResult
}

// Cancel marks the task for cancellation. Actual teardown happens on the
// loop goroutine at the task's next scheduling point: the poll observes the
// cancellation and the future is dropped (and disposed, see [Disposer])
// without further progress. Cancelling a task that already completed is a
// no-op.
func (h TaskHandle) Cancel() {
	if h.res == nil {
		return
	}
	h.res.mu.Lock()
	if h.res.done {
		h.res.mu.Unlock()
		return
	}
	h.res.cancelled = true
	bound, slot, gen := h.res.bound, h.res.slot, h.res.gen
	h.res.mu.Unlock()
	if bound {
		// Schedule the task so teardown is prompt rather than waiting for
		// its next organic wake.
		h.exec.wake(slot, gen)
	}
}

// Done reports whether the task has completed, failed, or been torn down
// after cancellation.
func (h TaskHandle) Done() bool {
	if h.res == nil {
		return true
	}
	h.res.mu.Lock()
	defer h.res.mu.Unlock()
	return h.res.done
}

// Err returns the task's terminal error: nil on success, [ErrTaskCancelled]
// if it was cancelled, or a [*PanicError] if its poll panicked. The result
// is only meaningful once Done reports true.
func (h TaskHandle) Err() error {
	if h.res == nil {
		return nil
	}
	h.res.mu.Lock()
	defer h.res.mu.Unlock()
	return h.res.err
}

// taskSlot is one arena entry. Slots are recycled through a free list; the
// generation counter detects stale wakers and handles after reuse.
type taskSlot struct {
	fut    Future
	res    *taskResult
	gen    uint32
	live   bool
	queued bool // in the run queue (dedup invariant)
}

// remoteSpawn is a spawn request from a foreign goroutine, materialised
// into a slot on the loop goroutine.
type remoteSpawn struct {
	fut Future
	res *taskResult
}

// executor owns the task arena and the run queue. All mutation happens on
// the owning goroutine; foreign goroutines only ever touch the
// mutex-guarded ingress queue.
type executor struct {
	slots []taskSlot
	free  []uint32
	run   *queue.Queue // FIFO of packed slot|gen refs
	live  int          // count of live tasks

	// ownerGID identifies the goroutine allowed lock-free access: the
	// creator, overridden by whichever goroutine drives the loop.
	ownerGID atomic.Uint64

	remoteMu sync.Mutex
	remote   *queue.Queue // wakes and spawns from foreign goroutines
	notify   func()       // interrupts a sleeping loop; set by the runtime

	logger *logiface.Logger[logiface.Event]
}

func newExecutor(logger *logiface.Logger[logiface.Event]) *executor {
	e := &executor{
		run:    queue.New(),
		remote: queue.New(),
		logger: logger,
	}
	e.ownerGID.Store(currentGID())
	return e
}

func pack(slot, gen uint32) uint64 { return uint64(slot)<<32 | uint64(gen) }

func unpack(ref uint64) (s, g uint32) { return uint32(ref >> 32), uint32(ref) }

func (e *executor) onOwnerThread() bool {
	return currentGID() == e.ownerGID.Load()
}

// Spawn registers a new task in pending state and enqueues it ready for its
// first poll. It never fails. From foreign goroutines the spawn is routed
// through the ingress queue and materialised on the next loop turn.
func (e *executor) Spawn(fut Future) TaskHandle {
	res := &taskResult{}
	if e.onOwnerThread() {
		e.bind(fut, res)
	} else {
		e.remoteMu.Lock()
		e.remote.Add(&remoteSpawn{fut: fut, res: res})
		e.remoteMu.Unlock()
		if e.notify != nil {
			e.notify()
		}
	}
	return TaskHandle{exec: e, res: res}
}

// bind allocates a slot for the task and enqueues its first poll.
// Loop/owner goroutine only.
func (e *executor) bind(fut Future, res *taskResult) {
	var slot uint32
	if n := len(e.free); n > 0 {
		slot = e.free[n-1]
		e.free = e.free[:n-1]
	} else {
		e.slots = append(e.slots, taskSlot{})
		slot = uint32(len(e.slots) - 1)
	}
	s := &e.slots[slot]
	s.fut = fut
	s.res = res
	s.live = true
	s.queued = false
	e.live++

	res.mu.Lock()
	res.slot, res.gen, res.bound = slot, s.gen, true
	res.mu.Unlock()

	e.localWake(slot, s.gen)
}

// wake re-admits a task to the run queue. Safe from any goroutine; stale
// slot/gen pairs are silently ignored.
func (e *executor) wake(slot, gen uint32) {
	if e.onOwnerThread() {
		e.localWake(slot, gen)
		return
	}
	e.remoteMu.Lock()
	e.remote.Add(pack(slot, gen))
	e.remoteMu.Unlock()
	if e.notify != nil {
		e.notify()
	}
}

// localWake enqueues unless the ref is stale or the task is already queued.
func (e *executor) localWake(slot, gen uint32) {
	if int(slot) >= len(e.slots) {
		return
	}
	s := &e.slots[slot]
	if !s.live || s.gen != gen || s.queued {
		return
	}
	s.queued = true
	e.run.Add(pack(slot, gen))
}

// drainRemote moves pending foreign wakes and spawns onto the local run
// queue. Loop goroutine only.
func (e *executor) drainRemote() {
	for {
		e.remoteMu.Lock()
		if e.remote.Length() == 0 {
			e.remoteMu.Unlock()
			return
		}
		op := e.remote.Remove()
		e.remoteMu.Unlock()

		switch v := op.(type) {
		case uint64:
			e.localWake(unpack(v))
		case *remoteSpawn:
			e.bind(v.fut, v.res)
		}
	}
}

func (e *executor) remotePending() bool {
	e.remoteMu.Lock()
	defer e.remoteMu.Unlock()
	return e.remote.Length() > 0
}

// runReady pops every task enqueued at the start of the call and polls each
// once. Tasks that wake themselves (or are woken) during this call land in
// the queue for the next invocation, so a self-rewaking task cannot starve
// others. Tasks left pending are re-enqueued only by their waker.
func (e *executor) runReady(rt *Runtime) {
	n := e.run.Length()
	for i := 0; i < n; i++ {
		slot, gen := unpack(e.run.Remove().(uint64))
		s := &e.slots[slot]
		if !s.live || s.gen != gen {
			continue // stale ref; slot was completed and possibly reused
		}
		s.queued = false
		if s.res.cancelRequested() {
			e.complete(slot, ErrTaskCancelled)
			continue
		}
		e.pollTask(rt, slot)
	}
}

func (e *executor) pollTask(rt *Runtime, slot uint32) {
	s := &e.slots[slot]
	cx := Context{rt: rt, waker: Waker{exec: e, slot: slot, gen: s.gen}}
	done, err := pollRecover(s.fut, &cx)
	if err != nil {
		e.logger.Err().Err(err).Int("slot", int(slot)).Log("task poll panicked")
		e.complete(slot, err)
		return
	}
	if done {
		e.complete(slot, nil)
	}
}

// pollRecover isolates a panic to the task being polled.
func pollRecover(fut Future, cx *Context) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fut.Poll(cx), nil
}

// complete releases the task's resources, records the outcome on the
// result, and recycles the slot. Any waker still referring to the old
// slot/gen pair becomes stale, hence a no-op.
func (e *executor) complete(slot uint32, err error) {
	s := &e.slots[slot]
	if d, ok := s.fut.(Disposer); ok {
		e.safeDispose(d)
	}
	res := s.res
	s.fut = nil
	s.res = nil
	s.live = false
	s.queued = false
	s.gen++
	e.free = append(e.free, slot)
	e.live--

	res.mu.Lock()
	res.done = true
	res.bound = false
	res.err = err
	if err == ErrTaskCancelled {
		res.cancelled = true
	}
	res.mu.Unlock()
}

func (e *executor) safeDispose(d Disposer) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Err().Err(&PanicError{Value: r}).Log("future dispose panicked")
		}
	}()
	d.Dispose()
}

func (e *executor) readyLen() int { return e.run.Length() }
func (e *executor) liveTasks() int { return e.live }
