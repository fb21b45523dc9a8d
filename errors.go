package localloop

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrRuntimeTerminated is returned when operations are attempted on a
	// runtime that has been closed.
	ErrRuntimeTerminated = errors.New("localloop: runtime has been terminated")

	// ErrRuntimeBusy is returned when RunUntil or RunAll is called while the
	// loop is already running on another goroutine.
	ErrRuntimeBusy = errors.New("localloop: runtime loop is already running")

	// ErrReentrantRun is returned when RunUntil or RunAll is called from
	// within a task polled by the loop itself.
	ErrReentrantRun = errors.New("localloop: cannot run the loop from within the loop")

	// ErrTaskCancelled is reported as a task's failure when the task was
	// cancelled before its future completed.
	ErrTaskCancelled = errors.New("localloop: task cancelled")

	// ErrUnsupportedPlatform is returned by New on platforms without a
	// native readiness-polling backend.
	ErrUnsupportedPlatform = errors.New("localloop: native poller not supported on this platform")
)

// RegistrationError reports a recoverable failure to register, reregister,
// or deregister interest in an I/O source. It is surfaced to the caller of
// the failing operation and never terminates the loop.
type RegistrationError struct {
	Cause error
	Op    string // "register", "reregister" or "deregister"
	Fd    int
}

// Error implements the error interface.
func (e *RegistrationError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("localloop: %s fd %d failed", e.Op, e.Fd)
	}
	return fmt.Sprintf("localloop: %s fd %d failed: %v", e.Op, e.Fd, e.Cause)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *RegistrationError) Unwrap() error {
	return e.Cause
}

// Errors reported when registering interests.
var (
	errInvalidSource   = errors.New("localloop: source has an invalid descriptor")
	errDuplicateSource = errors.New("localloop: conflicting registration exists for source/interest")
	errStaleHandle     = errors.New("localloop: registration handle is stale")
)

// ReactorError reports an unrecoverable fault in the readiness-polling
// backend. It is fatal to the runtime loop: once poll fails, no further I/O
// readiness can be observed, so RunUntil terminates with this error.
type ReactorError struct {
	Cause error
	Op    string
}

// Error implements the error interface.
func (e *ReactorError) Error() string {
	return fmt.Sprintf("localloop: reactor %s failed: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *ReactorError) Unwrap() error {
	return e.Cause
}

// PanicError wraps a value recovered from a panicking task poll. The fault
// is isolated to the task that panicked: it is reported as that task's
// failure and does not corrupt the run queue or other tasks' state.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("localloop: task panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type,
// enabling [errors.Is] and [errors.As] through the cause chain. If the
// value is not an error (e.g. a string), returns nil.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
