package localloop

import "time"

// sleepFuture completes once a timer deadline has fired. The deadline for
// a relative sleep is anchored at the first poll, not at construction, so
// a future built ahead of time does not burn its delay while unscheduled.
type sleepFuture struct {
	delay    time.Duration
	when     time.Time
	haveWhen bool
	armed    bool
	handle   TimerHandle
}

// Sleep returns a future that completes the given duration after it is
// first polled.
func Sleep(d time.Duration) Future {
	return &sleepFuture{delay: d}
}

// Deadline returns a future that completes at the given absolute time. A
// deadline already in the past completes on the loop iteration after the
// arming poll, never synchronously.
func Deadline(t time.Time) Future {
	return &sleepFuture{when: t, haveWhen: true}
}

func (s *sleepFuture) Poll(cx *Context) bool {
	if !s.armed {
		if !s.haveWhen {
			s.when = cx.Now().Add(s.delay)
			s.haveWhen = true
		}
		s.handle = cx.Timers().Schedule(s.when, cx.Waker())
		s.armed = true
		return false
	}
	return s.handle.Fired()
}

// Dispose releases the timer entry if the sleep is torn down before it
// fires, e.g. on task cancellation.
func (s *sleepFuture) Dispose() {
	if s.armed {
		s.handle.Cancel()
	}
}
