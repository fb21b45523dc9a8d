package localloop

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

var runtimeIDCounter atomic.Uint64

// Runtime is the composition root tying the executor, reactor, and timer
// wheel together on a single owning goroutine.
//
// A Runtime is created idle. RunUntil and RunAll drive the loop to a
// terminating condition and leave the runtime idle again, so it may be
// reused. Close releases the native resources; a closed runtime cannot be
// reused.
//
// Ownership: the goroutine that created the runtime owns it until a run
// method is called, at which point the calling goroutine becomes the owner
// for the duration of the run. Spawn and Waker.Wake are nonetheless safe
// from any goroutine; they are routed through an ingress queue and the
// wake pipe when called from a non-owner.
type Runtime struct {
	exec    *executor
	timers  *TimerWheel
	reactor *Reactor
	logger  *logiface.Logger[logiface.Event]

	state runState

	wakeReadFd  int
	wakeWriteFd int
	wakeBuf     [8]byte
	wakePending atomic.Uint32

	closeOnce sync.Once

	// now is the cached time for the current loop iteration, monotonic.
	now time.Time
	id  uint64
}

// New creates an idle runtime backed by the platform-native readiness
// poller. Fails with [ErrUnsupportedPlatform] where no backend exists.
func New(opts ...Option) (*Runtime, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	reactor, err := newReactor(cfg.pollEventCapacity, cfg.logger)
	if err != nil {
		return nil, err
	}

	wakeR, wakeW, err := createWakeFd()
	if err != nil {
		_ = reactor.close()
		return nil, err
	}

	rt := &Runtime{
		timers:      newTimerWheel(),
		reactor:     reactor,
		logger:      cfg.logger,
		wakeReadFd:  wakeR,
		wakeWriteFd: wakeW,
		id:          runtimeIDCounter.Add(1),
	}
	rt.exec = newExecutor(cfg.logger)
	rt.exec.notify = rt.notifyWake

	if err := reactor.registerInternal(wakeR, Readable, rt.drainWakePipe); err != nil {
		_ = reactor.close()
		_ = closeFD(wakeR)
		if wakeW != wakeR {
			_ = closeFD(wakeW)
		}
		return nil, err
	}

	rt.logger.Debug().Uint64("runtime", rt.id).Log("runtime created")
	return rt, nil
}

// Spawn registers fut as a new task, enqueued ready for its first poll.
// It never fails; the returned handle can be used to request cancellation
// and to observe the task's outcome.
func (rt *Runtime) Spawn(fut Future) TaskHandle {
	return rt.exec.Spawn(fut)
}

// Reactor returns the runtime's reactor, for futures registering I/O
// interest directly. Loop goroutine only.
func (rt *Runtime) Reactor() *Reactor { return rt.reactor }

// Timers returns the runtime's timer wheel. Loop goroutine only.
func (rt *Runtime) Timers() *TimerWheel { return rt.timers }

// Now returns the cached time for the current loop iteration, or the
// current time when the loop is not running.
func (rt *Runtime) Now() time.Time {
	if rt.now.IsZero() {
		return time.Now()
	}
	return rt.now
}

// RunUntil spawns fut as the root task and drives the loop until it
// completes, is cancelled, or a fatal condition occurs. Other tasks in the
// runtime make progress while the root runs; tasks still pending when the
// root completes stay registered and continue on the next run.
//
// Returns the root's terminal error (nil on success, [ErrTaskCancelled],
// or a [*PanicError]), ctx.Err() if ctx expires, a [*ReactorError] on a
// polling-backend fault, or [ErrRuntimeTerminated] if Close is called
// while running.
func (rt *Runtime) RunUntil(ctx context.Context, fut Future) error {
	if err := rt.enterLoop(); err != nil {
		return err
	}
	root := rt.exec.Spawn(fut)
	err := rt.loop(ctx, root.Done)
	if err != nil {
		root.Cancel()
		// One teardown pass so the root (and anything else cancelled)
		// releases registrations and timer entries before we return.
		rt.exec.drainRemote()
		rt.exec.runReady(rt)
		rt.exitLoop()
		return err
	}
	rt.exitLoop()
	return root.Err()
}

// RunAll drives the loop until every task in the runtime has completed,
// including tasks spawned while running.
func (rt *Runtime) RunAll(ctx context.Context) error {
	if err := rt.enterLoop(); err != nil {
		return err
	}
	err := rt.loop(ctx, func() bool { return rt.exec.liveTasks() == 0 })
	rt.exitLoop()
	return err
}

func (rt *Runtime) enterLoop() error {
	if !rt.state.tryTransition(stateIdle, stateRunning) {
		switch rt.state.load() {
		case stateTerminated:
			return ErrRuntimeTerminated
		case stateRunning, stateSleeping:
			if rt.exec.onOwnerThread() {
				return ErrReentrantRun
			}
			return ErrRuntimeBusy
		default:
			return ErrRuntimeBusy
		}
	}
	// The calling goroutine owns the loop for the duration of the run.
	rt.exec.ownerGID.Store(currentGID())
	rt.now = time.Now()
	return nil
}

func (rt *Runtime) exitLoop() {
	rt.now = time.Time{}
	if !rt.state.tryTransition(stateRunning, stateIdle) && rt.state.load() == stateTerminated {
		rt.closeFDs()
	}
}

// loop is one run of the runtime loop. Each iteration: drain the tasks
// that were ready at its start, check the terminating condition, bound the
// reactor poll by the next timer deadline, poll, then fire due timers.
// I/O wakeups are processed before timer firings within an iteration.
func (rt *Runtime) loop(ctx context.Context, done func() bool) error {
	// Watcher goroutine to interrupt a sleeping poll on ctx cancellation.
	if ctx.Done() != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctx.Done():
				rt.notifyWake()
			case <-stop:
			}
		}()
	}

	for {
		rt.now = time.Now()
		rt.exec.drainRemote()
		rt.exec.runReady(rt)

		if done() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if rt.state.load() == stateTerminated {
			return ErrRuntimeTerminated
		}

		timeout := rt.pollTimeout()
		sleeping := false
		if timeout != 0 {
			if !rt.state.tryTransition(stateRunning, stateSleeping) {
				// Terminated concurrently; handled at the top of the loop.
				continue
			}
			sleeping = true
			// Sleep barrier: anything pushed to the ingress queue before
			// the pusher observed a non-sleeping state is visible here.
			if rt.exec.remotePending() || ctx.Err() != nil {
				rt.state.tryTransition(stateSleeping, stateRunning)
				sleeping = false
				timeout = 0
			}
		}

		_, err := rt.reactor.Poll(timeout)
		if sleeping {
			rt.state.tryTransition(stateSleeping, stateRunning)
		}
		if err != nil {
			// Fatal: no further I/O readiness can be observed.
			rt.logger.Err().Err(err).Uint64("runtime", rt.id).Log("reactor poll failed, terminating")
			rt.state.store(stateTerminated)
			return err
		}

		rt.now = time.Now()
		rt.timers.Advance(rt.now)
	}
}

// pollTimeout computes how long the reactor poll may block: zero when
// tasks are already ready, the delay until the next timer deadline when
// one is pending, and forever (negative) otherwise.
func (rt *Runtime) pollTimeout() time.Duration {
	if rt.exec.readyLen() > 0 {
		return 0
	}
	if deadline, ok := rt.timers.NextDeadline(); ok {
		d := deadline.Sub(rt.now)
		if d < 0 {
			return 0
		}
		return d
	}
	return -1
}

// notifyWake interrupts a sleeping loop by writing the wake pipe. Safe
// from any goroutine; deduplicated so at most one write is outstanding.
func (rt *Runtime) notifyWake() {
	if rt.state.load() != stateSleeping {
		// A non-sleeping loop re-checks its queues before it can sleep.
		return
	}
	if rt.wakePending.CompareAndSwap(0, 1) {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], 1)
		if _, err := writeFD(rt.wakeWriteFd, buf[:]); err != nil {
			// Expected during teardown when the pipe is closing.
			rt.wakePending.Store(0)
		}
	}
}

// drainWakePipe empties the wake pipe. Invoked by the reactor when the
// pipe's read end polls readable.
func (rt *Runtime) drainWakePipe() {
	for {
		if n, err := readFD(rt.wakeReadFd, rt.wakeBuf[:]); n <= 0 || err != nil {
			break
		}
	}
	rt.wakePending.Store(0)
}

// Close terminates the runtime and releases its native resources. If the
// loop is running, it is woken and exits with [ErrRuntimeTerminated]; the
// descriptors are released as the loop unwinds. Idempotent.
func (rt *Runtime) Close() error {
	for {
		current := rt.state.load()
		if current == stateTerminated {
			return ErrRuntimeTerminated
		}
		if rt.state.tryTransition(current, stateTerminated) {
			if current == stateIdle {
				rt.closeFDs()
				return nil
			}
			if current == stateSleeping {
				// Bypass notifyWake's state check; we just left sleeping.
				var buf [8]byte
				binary.LittleEndian.PutUint64(buf[:], 1)
				_, _ = writeFD(rt.wakeWriteFd, buf[:])
			}
			return nil
		}
	}
}

func (rt *Runtime) closeFDs() {
	rt.closeOnce.Do(func() {
		_ = rt.reactor.close()
		_ = closeFD(rt.wakeReadFd)
		if rt.wakeWriteFd != rt.wakeReadFd {
			_ = closeFD(rt.wakeWriteFd)
		}
		rt.logger.Debug().Uint64("runtime", rt.id).Log("runtime closed")
	})
}

// Handle is a cheap value reference to a runtime, for embedding code that
// spawns work without holding the Runtime itself. All methods are safe
// from any goroutine.
type Handle struct {
	rt *Runtime
}

// Handle returns a spawning handle for the runtime.
func (rt *Runtime) Handle() Handle { return Handle{rt: rt} }

// Spawn registers fut as a new task on the handle's runtime.
func (h Handle) Spawn(fut Future) TaskHandle { return h.rt.exec.Spawn(fut) }

// Run creates a runtime, runs fut to completion on it, and releases the
// runtime. Convenience for main-like entry points.
func Run(fut Future) error {
	rt, err := New()
	if err != nil {
		return err
	}
	defer rt.Close()
	return rt.RunUntil(context.Background(), fut)
}
