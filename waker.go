package localloop

// Waker is a callback capability that re-admits its task to the run queue.
//
// A Waker is a plain value holding the task's arena slot and a generation
// counter, never an owning reference to the task itself; this is what breaks
// the waker↔task reference cycle. Copies are equivalent and independently
// usable. Invoking a Waker whose task has already completed (or whose slot
// has been reused by a later task) is a guaranteed no-op.
//
// Wake is safe to call from any goroutine at any time. On the loop
// goroutine the task is enqueued directly; from foreign goroutines the wake
// is routed through the executor's ingress queue and, if the loop is
// sleeping in the reactor poll, the wake pipe is written to interrupt it.
type Waker struct {
	exec *executor
	slot uint32
	gen  uint32
}

// Wake enqueues the owning task into the run queue, if it is still pending
// and not already enqueued. Duplicate wakes before the task is polled
// coalesce: a task appears in the run queue at most once at any instant.
func (w Waker) Wake() {
	if w.exec == nil {
		return
	}
	w.exec.wake(w.slot, w.gen)
}

// IsZero reports whether the waker is the zero value (not bound to a task).
func (w Waker) IsZero() bool {
	return w.exec == nil
}
