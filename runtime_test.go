//go:build linux || darwin

package localloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func testRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	rt, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestRunUntilImmediateCompletion(t *testing.T) {
	rt := testRuntime(t)
	var polls int
	err := rt.RunUntil(context.Background(), PollFunc(func(cx *Context) bool {
		polls++
		return true
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, polls)
}

func TestRunUntilSleep(t *testing.T) {
	rt := testRuntime(t)
	start := time.Now()
	err := rt.RunUntil(context.Background(), Sleep(15*time.Millisecond))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestRunUntilPastDeadline(t *testing.T) {
	rt := testRuntime(t)
	start := time.Now()
	err := rt.RunUntil(context.Background(), Deadline(start.Add(-time.Hour)))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunUntilReadable(t *testing.T) {
	rt := testRuntime(t)
	pr, pw := testPipe(t)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = unix.Write(pw, []byte{1})
	}()

	fut := AwaitReadable(fdSource(pr))
	err := rt.RunUntil(context.Background(), fut)
	require.NoError(t, err)
	require.NoError(t, fut.Err())
	assert.NotZero(t, fut.Readiness()&ReadyRead)
}

func TestRunUntilComposesIOAndTimers(t *testing.T) {
	rt := testRuntime(t)
	pr, pw := testPipe(t)

	go func() {
		time.Sleep(5 * time.Millisecond)
		_, _ = unix.Write(pw, []byte{1})
	}()

	// The root completes only once both the readiness future and a timer
	// have resolved, exercising the poll-bounded-by-deadline path.
	ioDone := rt.Spawn(AwaitReadable(fdSource(pr)))
	timerDone := rt.Spawn(Sleep(20 * time.Millisecond))

	err := rt.RunUntil(context.Background(), PollFunc(func(cx *Context) bool {
		if ioDone.Done() && timerDone.Done() {
			return true
		}
		cx.Waker().Wake()
		return false
	}))
	require.NoError(t, err)
	assert.NoError(t, ioDone.Err())
	assert.NoError(t, timerDone.Err())
}

func TestRunUntilRootPanic(t *testing.T) {
	rt := testRuntime(t)
	err := rt.RunUntil(context.Background(), PollFunc(func(cx *Context) bool {
		panic("root boom")
	}))
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "root boom", pe.Value)

	// The runtime survives a root panic and is reusable.
	require.NoError(t, rt.RunUntil(context.Background(), Sleep(time.Millisecond)))
}

func TestRunUntilContextCancellation(t *testing.T) {
	rt := testRuntime(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := rt.RunUntil(ctx, Sleep(time.Hour))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunUntilCancelSiblingTask(t *testing.T) {
	rt := testRuntime(t)
	sleeper := rt.Spawn(Sleep(time.Hour))

	cancelled := false
	err := rt.RunUntil(context.Background(), PollFunc(func(cx *Context) bool {
		if !cancelled {
			sleeper.Cancel()
			cancelled = true
		}
		if sleeper.Done() {
			return true
		}
		cx.Waker().Wake()
		return false
	}))
	require.NoError(t, err)
	require.ErrorIs(t, sleeper.Err(), ErrTaskCancelled)
	// The sleeper's timer entry was disposed with it.
	assert.Zero(t, rt.Timers().Pending())
}

func TestRemoteWakeInterruptsSleep(t *testing.T) {
	rt := testRuntime(t)

	wakers := make(chan Waker, 1)
	go func() {
		w := <-wakers
		time.Sleep(10 * time.Millisecond) // let the loop reach the poll
		w.Wake()
	}()

	armed := false
	start := time.Now()
	err := rt.RunUntil(context.Background(), PollFunc(func(cx *Context) bool {
		if !armed {
			wakers <- cx.Waker()
			armed = true
			return false
		}
		return true
	}))
	require.NoError(t, err)
	// Without the wake pipe the loop would block forever (no timers, no I/O).
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRemoteSpawnWhileRunning(t *testing.T) {
	rt := testRuntime(t)
	rt.Spawn(Sleep(30 * time.Millisecond))

	ran := false
	go func() {
		time.Sleep(5 * time.Millisecond)
		rt.Spawn(PollFunc(func(cx *Context) bool {
			ran = true
			return true
		}))
	}()

	require.NoError(t, rt.RunAll(context.Background()))
	assert.True(t, ran)
	assert.Zero(t, rt.exec.liveTasks())
}

func TestRunAllDrainsSpawnedChildren(t *testing.T) {
	rt := testRuntime(t)
	var done []int
	rt.Spawn(PollFunc(func(cx *Context) bool {
		cx.Spawn(PollFunc(func(cx *Context) bool {
			done = append(done, 2)
			return true
		}))
		done = append(done, 1)
		return true
	}))
	require.NoError(t, rt.RunAll(context.Background()))
	assert.Equal(t, []int{1, 2}, done)
}

func TestRuntimeReuse(t *testing.T) {
	rt := testRuntime(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, rt.RunUntil(context.Background(), Sleep(time.Millisecond)))
	}
}

func TestReentrantRunFails(t *testing.T) {
	rt := testRuntime(t)
	var inner error
	err := rt.RunUntil(context.Background(), PollFunc(func(cx *Context) bool {
		inner = cx.Runtime().RunAll(context.Background())
		return true
	}))
	require.NoError(t, err)
	require.ErrorIs(t, inner, ErrReentrantRun)
}

func TestConcurrentRunFails(t *testing.T) {
	rt := testRuntime(t)

	started := make(chan struct{})
	results := make(chan error, 1)
	go func() {
		<-started
		results <- rt.RunUntil(context.Background(), Sleep(time.Hour))
	}()

	err := rt.RunUntil(context.Background(), PollFunc(func(cx *Context) bool {
		select {
		case started <- struct{}{}:
		default:
			cx.Waker().Wake()
			return false
		}
		select {
		case err := <-results:
			require.ErrorIs(t, err, ErrRuntimeBusy)
			return true
		default:
			cx.Waker().Wake()
			return false
		}
	}))
	require.NoError(t, err)
}

func TestCloseTerminatesRunningLoop(t *testing.T) {
	rt := testRuntime(t)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = rt.Close()
	}()

	err := rt.RunUntil(context.Background(), Sleep(time.Hour))
	require.ErrorIs(t, err, ErrRuntimeTerminated)

	// Closed runtimes reject further runs; Close is idempotent.
	require.ErrorIs(t, rt.RunUntil(context.Background(), Sleep(0)), ErrRuntimeTerminated)
	require.ErrorIs(t, rt.Close(), ErrRuntimeTerminated)
}

func TestRunHelper(t *testing.T) {
	require.NoError(t, Run(Sleep(time.Millisecond)))
}

func TestIOFutureDisposeDeregisters(t *testing.T) {
	rt := testRuntime(t)
	pr, _ := testPipe(t)

	h := rt.Spawn(AwaitReadable(fdSource(pr)))
	err := rt.RunUntil(context.Background(), PollFunc(func(cx *Context) bool {
		if !h.Done() {
			h.Cancel()
			cx.Waker().Wake()
			return false
		}
		return true
	}))
	require.NoError(t, err)
	require.ErrorIs(t, h.Err(), ErrTaskCancelled)

	// The registration was released: the fd can be registered afresh.
	rg, regErr := rt.Reactor().Register(fdSource(pr), Readable, Waker{})
	require.NoError(t, regErr)
	rg.Deregister()
}

func TestInvalidOption(t *testing.T) {
	_, err := New(WithPollEventCapacity(0))
	require.Error(t, err)
}

func TestWithPollEventCapacity(t *testing.T) {
	rt := testRuntime(t, WithPollEventCapacity(4))
	require.NoError(t, rt.RunUntil(context.Background(), Sleep(time.Millisecond)))
}

// pipeReader consumes n bytes from a pipe through a persistent IOHandle,
// clearing latched readiness after each read.
type pipeReader struct {
	fd   int
	want int
	got  []byte
	h    *IOHandle
}

func (f *pipeReader) Poll(cx *Context) bool {
	if f.h == nil {
		h, err := OpenIO(cx, fdSource(f.fd), Readable)
		if err != nil {
			panic(err)
		}
		f.h = h
		return false
	}
	for f.h.Readiness()&ReadyRead != 0 {
		var buf [1]byte
		n, err := unix.Read(f.fd, buf[:])
		if n <= 0 || err != nil {
			f.h.ClearReadiness(ReadyRead)
			break
		}
		f.got = append(f.got, buf[0])
	}
	if len(f.got) >= f.want {
		f.h.Close()
		f.h = nil
		return true
	}
	f.h.ClearReadiness(ReadyRead)
	return false
}

func (f *pipeReader) Dispose() {
	if f.h != nil {
		f.h.Close()
	}
}

func TestIOHandleRepeatedWaits(t *testing.T) {
	rt := testRuntime(t)
	pr, pw := testPipe(t)

	go func() {
		for _, b := range []byte("abc") {
			time.Sleep(5 * time.Millisecond)
			_, _ = unix.Write(pw, []byte{b})
		}
	}()

	fut := &pipeReader{fd: pr, want: 3}
	require.NoError(t, rt.RunUntil(context.Background(), fut))
	assert.Equal(t, []byte("abc"), fut.got)
}

func TestHandleSpawnFromForeignGoroutine(t *testing.T) {
	rt := testRuntime(t)
	h := rt.Handle()

	ran := make(chan struct{})
	go func() {
		time.Sleep(5 * time.Millisecond)
		h.Spawn(PollFunc(func(cx *Context) bool {
			close(ran)
			return true
		}))
	}()

	rt.Spawn(Sleep(30 * time.Millisecond))
	require.NoError(t, rt.RunAll(context.Background()))
	select {
	case <-ran:
	default:
		t.Error("handle-spawned task never ran")
	}
}
