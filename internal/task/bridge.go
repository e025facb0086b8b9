package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	Timeout time.Duration // bound on every call; 0 waits until ctx is done
	Logger  *slog.Logger
}

// Bridge serializes calls to one peripheral instance. It holds a
// single-slot mailbox: while a call is in flight every other call fails
// with ErrBusy.
type Bridge struct {
	name    string
	loop    *Loop
	handler Handler
	timeout time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	seq     uint64
	pending *call
	closed  bool
	closeCh chan struct{}
}

type call struct {
	req  *Request
	done chan bool // buffered; receives the completion's ok flag
}

// Request is one call as seen by the Handler.
type Request struct {
	bridge *Bridge
	seq    uint64
	op     Op
}

// NewBridge creates a bridge for the peripheral called name whose
// operations are executed by h on loop.
func NewBridge(loop *Loop, name string, h Handler, opts BridgeOptions) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		name:    name,
		loop:    loop,
		handler: h,
		timeout: opts.Timeout,
		log:     logger.With("peripheral", name),
		closeCh: make(chan struct{}),
	}
}

// Name returns the peripheral name the bridge was created with.
func (b *Bridge) Name() string { return b.name }

// Call submits op and blocks until the handler completes it, the bridge
// timeout expires, ctx is done, or the bridge is closed.
//
// ok reports whether the hardware operation succeeded. A hardware failure
// is not an error: err is non-nil only for ErrBusy, ErrTimeout, ErrClosed,
// ErrLoopStopped and ctx cancellation.
func (b *Bridge) Call(ctx context.Context, op Op) (ok bool, err error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false, ErrClosed
	}
	if b.pending != nil {
		b.mu.Unlock()
		return false, ErrBusy
	}
	b.seq++
	c := &call{
		req:  &Request{bridge: b, seq: b.seq, op: op},
		done: make(chan bool, 1),
	}
	b.pending = c
	b.mu.Unlock()

	if !b.loop.Post(func() { b.dispatch(c.req) }) {
		b.release(c)
		return false, ErrLoopStopped
	}

	var timeout <-chan time.Time
	if b.timeout > 0 {
		t := time.NewTimer(b.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case ok := <-c.done:
		return ok, nil
	case <-timeout:
		return b.abandon(c, ErrTimeout)
	case <-ctx.Done():
		cause := ctx.Err()
		if errors.Is(cause, context.DeadlineExceeded) {
			cause = ErrTimeout
		}
		return b.abandon(c, cause)
	case <-b.closeCh:
		return b.abandon(c, ErrClosed)
	}
}

// Do is Call for callers that only care whether the operation worked. An
// unsuccessful completion is reported as ErrFailed.
func (b *Bridge) Do(ctx context.Context, op Op) error {
	ok, err := b.Call(ctx, op)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrFailed, op.Name())
	}
	return nil
}

// Busy reports whether a call is in flight.
func (b *Bridge) Busy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending != nil
}

// Close fails the call in flight, if any, with ErrClosed and rejects all
// later calls. Completions still arriving from the runtime are dropped.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.closeCh)
	return nil
}

// dispatch runs on the loop. A call abandoned before the loop reached it is
// never handed to the handler.
func (b *Bridge) dispatch(r *Request) {
	if !b.live(r) {
		b.log.Debug("[TASK] skipping abandoned request", "op", r.op.Name(), "seq", r.seq)
		return
	}
	b.log.Debug("[TASK] dispatch", "op", r.op.Name(), "seq", r.seq)
	b.handler.Handle(r)
}

// complete runs on the loop. Results are written only if r is still the
// call in the mailbox, so a late completion can never touch a newer call.
func (b *Bridge) complete(r *Request, ok bool, write, stale func()) {
	b.mu.Lock()
	c := b.pending
	if c == nil || c.req.seq != r.seq {
		b.mu.Unlock()
		b.log.Warn("[TASK] dropping stale completion", "op", r.op.Name(), "seq", r.seq)
		if stale != nil {
			stale()
		}
		return
	}
	if write != nil {
		write()
	}
	b.pending = nil
	c.done <- ok
	b.mu.Unlock()

	b.log.Debug("[TASK] complete", "op", r.op.Name(), "seq", r.seq, "ok", ok)
}

// abandon clears the mailbox after the caller gave up waiting. If the
// completion won the race its result is returned instead.
func (b *Bridge) abandon(c *call, cause error) (bool, error) {
	b.mu.Lock()
	if b.pending != c {
		b.mu.Unlock()
		return <-c.done, nil
	}
	b.pending = nil
	b.mu.Unlock()

	b.log.Warn("[TASK] call abandoned", "op", c.req.op.Name(), "seq", c.req.seq, "error", cause)
	if cn, ok := b.handler.(Canceler); ok {
		b.loop.Post(func() { cn.Cancel(c.req) })
	}
	return false, cause
}

func (b *Bridge) release(c *call) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == c {
		b.pending = nil
	}
}

func (b *Bridge) live(r *Request) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending != nil && b.pending.req.seq == r.seq
}

// Op returns the payload of the request.
func (r *Request) Op() Op { return r.op }

// Seq returns the request's sequence number, unique per bridge.
func (r *Request) Seq() uint64 { return r.seq }

// Peripheral returns the name of the bridge the request belongs to.
func (r *Request) Peripheral() string { return r.bridge.name }

// Complete reports the outcome of the request from any goroutine.
// write, if non-nil, stores the results into the request's Op; it runs on
// the loop and only while the request is still the live call.
func (r *Request) Complete(ok bool, write func()) {
	r.CompleteOr(ok, write, nil)
}

// CompleteOr is Complete with a stale hook: when the caller has already
// given up, stale runs on the loop instead of write. Handlers use it to
// release resources a late success acquired.
func (r *Request) CompleteOr(ok bool, write, stale func()) {
	b := r.bridge
	if !b.loop.Post(func() { b.complete(r, ok, write, stale) }) {
		b.log.Debug("[TASK] completion after loop stop", "op", r.op.Name(), "seq", r.seq)
	}
}
