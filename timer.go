package localloop

import (
	"container/heap"
	"time"
)

// timerEntry is a deadline paired with the waker to invoke when it fires.
// Entries are ordered by deadline, ties broken by insertion sequence, so
// firing order among equal deadlines is deterministic FIFO.
type timerEntry struct {
	when      time.Time
	waker     Waker
	seq       uint64
	fired     bool
	cancelled bool
}

// timerHeap is a min-heap of timer entries keyed on (deadline, seq).
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(*timerEntry))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// TimerHandle refers to a pending timer entry and supports cancellation.
// The zero value is a valid no-op handle.
type TimerHandle struct {
	e *timerEntry
}

// Cancel removes the pending timer. Idempotent; a no-op if the timer
// already fired. Must be called on the loop goroutine.
func (h TimerHandle) Cancel() {
	if h.e == nil || h.e.fired {
		return
	}
	// Lazy deletion: the entry stays in the heap until popped.
	h.e.cancelled = true
}

// Fired reports whether the timer has fired.
func (h TimerHandle) Fired() bool {
	return h.e != nil && h.e.fired
}

// TimerWheel maintains pending deadlines and their wake callbacks. It is
// exclusively owned and mutated by the loop goroutine; no operation blocks.
type TimerWheel struct {
	h   timerHeap
	seq uint64
}

func newTimerWheel() *TimerWheel {
	return &TimerWheel{}
}

// Schedule registers waker to fire at deadline and returns immediately.
// If deadline is already in the past the waker fires on the next call to
// Advance, never synchronously from Schedule itself: wakes always travel
// the run-queue path, never a re-entrant call.
func (w *TimerWheel) Schedule(deadline time.Time, waker Waker) TimerHandle {
	e := &timerEntry{
		when:  deadline,
		waker: waker,
		seq:   w.seq,
	}
	w.seq++
	heap.Push(&w.h, e)
	return TimerHandle{e: e}
}

// NextDeadline returns the earliest pending deadline. ok is false when no
// timers are pending, in which case the reactor may block indefinitely.
func (w *TimerWheel) NextDeadline() (deadline time.Time, ok bool) {
	w.skimCancelled()
	if len(w.h) == 0 {
		return time.Time{}, false
	}
	return w.h[0].when, true
}

// Advance fires every pending entry whose deadline is <= now, in deadline
// order with FIFO tie-break, removing each from the wheel. An entry fires
// at most once. Returns the number of entries fired.
func (w *TimerWheel) Advance(now time.Time) int {
	var fired int
	for len(w.h) > 0 {
		e := w.h[0]
		if e.cancelled {
			heap.Pop(&w.h)
			continue
		}
		if e.when.After(now) {
			break
		}
		heap.Pop(&w.h)
		e.fired = true
		e.waker.Wake()
		fired++
	}
	return fired
}

// Pending returns the number of timers still scheduled.
func (w *TimerWheel) Pending() int {
	w.skimCancelled()
	return len(w.h)
}

// skimCancelled pops cancelled entries sitting at the heap root so that
// NextDeadline never reports a dead deadline.
func (w *TimerWheel) skimCancelled() {
	for len(w.h) > 0 && w.h[0].cancelled {
		heap.Pop(&w.h)
	}
}
