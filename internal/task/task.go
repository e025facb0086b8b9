// Package task turns the asynchronous, callback-driven peripheral runtime
// into blocking calls. Application code calls Bridge.Call; the request is
// handed to a Handler on the runtime Loop; the Handler reports back through
// Request.Complete, and only then is the caller released.
package task

import "errors"

var (
	// ErrBusy is returned when a call is issued on a bridge that already has
	// one in flight.
	ErrBusy = errors.New("task: call already in flight")

	// ErrTimeout is returned when no completion arrived within the bound.
	ErrTimeout = errors.New("task: call timed out")

	// ErrClosed is returned for calls on a closed bridge.
	ErrClosed = errors.New("task: bridge closed")

	// ErrLoopStopped is returned when the runtime loop is not accepting work.
	ErrLoopStopped = errors.New("task: runtime loop stopped")

	// ErrFailed is returned by Bridge.Do when the handler completed the
	// request unsuccessfully.
	ErrFailed = errors.New("task: operation failed")
)

// Op is the payload of one call: its input parameters and, once completed,
// its results. Each peripheral declares one concrete type per operation and
// its Handler dispatches on that type, so the operation selector and the
// payload shape can never disagree.
type Op interface {
	Name() string
}

// Handler executes operations on the runtime context.
//
// Handle is invoked on the Loop goroutine and must not block. It either
// completes the request before returning or starts the work and completes
// it later from any goroutine.
type Handler interface {
	Handle(r *Request)
}

// Canceler is implemented by handlers that can abort an operation after the
// caller stopped waiting for it.
type Canceler interface {
	Cancel(r *Request)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(r *Request)

// Handle calls f(r).
func (f HandlerFunc) Handle(r *Request) { f(r) }
