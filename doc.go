// Package localloop provides a single-threaded runtime for driving
// asynchronous computations (futures) to completion, coordinating
// cooperative task scheduling, readiness-based I/O multiplexing, and
// deadline notification on one thread with no background workers.
//
// # Architecture
//
// The runtime is the composition of three synchronously-driven parts:
//
//   - the executor: owns the run queue of ready tasks, polls each
//     task's future once per turn, and isolates per-task panics.
//   - [Reactor]: owns I/O source registrations and performs a single
//     bounded poll against the platform-native readiness backend
//     (epoll on Linux, kqueue on Darwin).
//   - [TimerWheel]: an ordered structure of pending deadlines answering
//     "what fires next?" and "what is due now?".
//
// [Runtime.RunUntil] ties them together: each iteration drains every
// task that was ready at the start of the iteration, bounds the reactor
// poll by the next timer deadline, dispatches readiness wakeups, then
// fires due timers. Data flows one way per turn: reactor/timer events
// invoke [Waker] values, wakers enqueue tasks, tasks are polled, and
// polls register new interests and deadlines for the next turn.
//
// # Execution Model
//
// A future is a repeatable, idempotent [Future.Poll] operation that
// either completes or arranges for its [Waker] to be invoked later.
// Because the runtime is single-threaded, futures spawned onto it may
// use plain (non-atomic) interior state. The only blocking operation in
// the core is the reactor's bounded poll.
//
// Wakers are the one object that may escape the loop: they are plain
// values, safe to copy, and safe to invoke from any goroutine at any
// time, including after the task they wake has completed (a stale wake
// is a guaranteed no-op). Wakes from foreign goroutines are funnelled
// through an ingress queue and an eventfd/self-pipe so a sleeping loop
// wakes promptly.
//
// # Usage
//
//	rt, err := localloop.New()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer rt.Close()
//
//	err = rt.RunUntil(context.Background(), localloop.PollFunc(func(cx *localloop.Context) bool {
//		// ... advance some state machine, eventually:
//		return true
//	}))
//
// Timer-consuming futures are built with [Sleep] and [Deadline]; I/O
// readiness futures with [AwaitReadable] and [AwaitWritable] over any
// [Source] exposing a native pollable descriptor.
package localloop
