package localloop

import (
	"time"
)

// Future is a suspendable computation.
//
// Poll attempts to advance the computation and returns true once it has
// completed; a completed future is never polled again. A future that
// returns false must first arrange for cx.Waker() (or a copy of it) to be
// invoked when further progress is possible, otherwise the owning task is
// never rescheduled.
//
// Poll is always invoked on the loop goroutine; implementations may use
// plain, non-atomic state.
type Future interface {
	Poll(cx *Context) bool
}

// PollFunc adapts a function to the [Future] interface.
type PollFunc func(cx *Context) bool

// Poll implements [Future].
func (f PollFunc) Poll(cx *Context) bool { return f(cx) }

// Disposer is implemented by futures that hold runtime resources, such as a
// reactor registration or a timer entry. Dispose is called exactly once,
// on the loop goroutine, when the owning task completes, fails, or is
// cancelled, and must release those resources. Resources are always
// releasable regardless of whether a poll is in flight.
type Disposer interface {
	Dispose()
}

// Context is the per-poll context threaded down the poll call chain. It
// carries the waker of the task being polled together with access to the
// runtime's reactor, timer wheel, and spawner, so that futures created deep
// inside application code need no ambient globals.
//
// A Context is only valid for the duration of the Poll call it was passed
// to; futures must not retain it. The [Waker] it exposes may be retained
// and used freely.
type Context struct {
	rt    *Runtime
	waker Waker
}

// Waker returns the waker that re-admits the task being polled to the run
// queue. It is a plain value: copy it, hand it to timer entries, reactor
// registrations, or completion handlers running on other goroutines.
func (cx *Context) Waker() Waker { return cx.waker }

// Runtime returns the runtime driving this poll.
func (cx *Context) Runtime() *Runtime { return cx.rt }

// Reactor returns the runtime's reactor.
func (cx *Context) Reactor() *Reactor { return cx.rt.reactor }

// Timers returns the runtime's timer wheel.
func (cx *Context) Timers() *TimerWheel { return cx.rt.timers }

// Spawn registers a sibling task on the runtime, ready for its first poll
// on the next turn.
func (cx *Context) Spawn(fut Future) TaskHandle { return cx.rt.exec.Spawn(fut) }

// Now returns the cached time for the current loop iteration. Using the
// iteration time keeps timer decisions within one turn consistent.
func (cx *Context) Now() time.Time { return cx.rt.Now() }
