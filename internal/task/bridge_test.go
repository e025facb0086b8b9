package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type testOp struct {
	value int
}

func (o *testOp) Name() string { return "test" }

// recordingHandler hands every request to the test instead of completing it,
// which plays the part of a hardware operation that finishes "later".
type recordingHandler struct {
	reqs chan *Request
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{reqs: make(chan *Request, 16)}
}

func (h *recordingHandler) Handle(r *Request) { h.reqs <- r }

func (h *recordingHandler) next(t *testing.T) *Request {
	t.Helper()
	select {
	case r := <-h.reqs:
		return r
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
		return nil
	}
}

type cancelingHandler struct {
	*recordingHandler
	canceled chan uint64
}

func (h *cancelingHandler) Cancel(r *Request) { h.canceled <- r.Seq() }

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := NewLoop(nil)
	l.Start()
	t.Cleanup(l.Stop)
	return l
}

func TestCallCompletesWithResults(t *testing.T) {
	loop := startLoop(t)
	b := NewBridge(loop, "echo", HandlerFunc(func(r *Request) {
		op := r.Op().(*testOp)
		r.Complete(true, func() { op.value = 42 })
	}), BridgeOptions{Timeout: time.Second})

	op := &testOp{}
	ok, err := b.Call(context.Background(), op)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if !ok {
		t.Fatal("Call() ok = false, want true")
	}
	if op.value != 42 {
		t.Errorf("op.value = %d, want 42", op.value)
	}
	if b.Busy() {
		t.Error("Busy() = true after the call returned")
	}
}

func TestCallReportsHardwareFailureAsResult(t *testing.T) {
	loop := startLoop(t)
	b := NewBridge(loop, "flaky", HandlerFunc(func(r *Request) {
		op := r.Op().(*testOp)
		r.Complete(false, func() { op.value = -1 })
	}), BridgeOptions{Timeout: time.Second})

	op := &testOp{}
	ok, err := b.Call(context.Background(), op)
	if err != nil {
		t.Fatalf("Call() error = %v, want nil for a hardware failure", err)
	}
	if ok {
		t.Error("Call() ok = true, want false")
	}
	if op.value != -1 {
		t.Errorf("op.value = %d, want -1", op.value)
	}

	if err := b.Do(context.Background(), &testOp{}); !errors.Is(err, ErrFailed) {
		t.Errorf("Do() error = %v, want ErrFailed", err)
	}
}

func TestSecondCallWhileInFlightIsBusy(t *testing.T) {
	loop := startLoop(t)
	h := newRecordingHandler()
	b := NewBridge(loop, "bt", h, BridgeOptions{Timeout: 2 * time.Second})

	errc := make(chan error, 1)
	go func() {
		_, err := b.Call(context.Background(), &testOp{})
		errc <- err
	}()
	first := h.next(t)

	if _, err := b.Call(context.Background(), &testOp{}); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Call() error = %v, want ErrBusy", err)
	}
	select {
	case <-h.reqs:
		t.Fatal("busy call reached the handler")
	case <-time.After(20 * time.Millisecond):
	}

	first.Complete(true, nil)
	if err := <-errc; err != nil {
		t.Fatalf("first Call() error = %v", err)
	}

	// The mailbox is free again.
	go func() {
		_, err := b.Call(context.Background(), &testOp{})
		errc <- err
	}()
	h.next(t).Complete(true, nil)
	if err := <-errc; err != nil {
		t.Fatalf("third Call() error = %v", err)
	}
}

func TestLateCompletionDoesNotCorruptNextCall(t *testing.T) {
	loop := startLoop(t)
	h := newRecordingHandler()
	b := NewBridge(loop, "gsm", h, BridgeOptions{Timeout: time.Second})

	a := &testOp{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	_, err := b.Call(ctx, a)
	cancel()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("call A error = %v, want ErrTimeout", err)
	}
	reqA := h.next(t)

	next := &testOp{}
	type result struct {
		ok  bool
		err error
	}
	resc := make(chan result, 1)
	go func() {
		ok, err := b.Call(context.Background(), next)
		resc <- result{ok, err}
	}()
	reqB := h.next(t)

	// A's completion arrives while B is in flight.
	reqA.Complete(true, func() {
		a.value = 99
		next.value = 99
	})
	time.Sleep(20 * time.Millisecond)
	if !b.Busy() {
		t.Fatal("stale completion released call B")
	}

	reqB.Complete(true, func() { next.value = 7 })
	res := <-resc
	if res.err != nil || !res.ok {
		t.Fatalf("call B = (%v, %v), want (true, nil)", res.ok, res.err)
	}
	if next.value != 7 {
		t.Errorf("B value = %d, want 7", next.value)
	}
	if a.value != 0 {
		t.Errorf("A value = %d, want 0 (stale results must be discarded)", a.value)
	}
}

func TestStaleHookRunsForLateCompletion(t *testing.T) {
	loop := startLoop(t)
	h := newRecordingHandler()
	b := NewBridge(loop, "wifi", h, BridgeOptions{Timeout: 20 * time.Millisecond})

	if _, err := b.Call(context.Background(), &testOp{}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Call() error = %v, want ErrTimeout", err)
	}

	released := make(chan struct{})
	h.next(t).CompleteOr(true, func() { t.Error("write ran for a stale request") }, func() { close(released) })

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("stale hook never ran")
	}
}

func TestTimeoutInvokesCanceler(t *testing.T) {
	loop := startLoop(t)
	h := &cancelingHandler{recordingHandler: newRecordingHandler(), canceled: make(chan uint64, 1)}
	b := NewBridge(loop, "scan", h, BridgeOptions{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := b.Call(context.Background(), &testOp{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Call() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Call() took %v, want roughly the 20ms bound", elapsed)
	}

	req := h.next(t)
	select {
	case seq := <-h.canceled:
		if seq != req.Seq() {
			t.Errorf("canceled seq = %d, want %d", seq, req.Seq())
		}
	case <-time.After(time.Second):
		t.Fatal("Cancel was not invoked")
	}
}

func TestContextCancellationFreesMailbox(t *testing.T) {
	loop := startLoop(t)
	h := newRecordingHandler()
	b := NewBridge(loop, "audio", h, BridgeOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := b.Call(ctx, &testOp{})
		errc <- err
	}()
	h.next(t)
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Call() error = %v, want context.Canceled", err)
	}
	if b.Busy() {
		t.Error("Busy() = true after cancellation")
	}
}

func TestBridgesAreIndependent(t *testing.T) {
	loop := startLoop(t)
	stuck := newRecordingHandler()
	b1 := NewBridge(loop, "bt", stuck, BridgeOptions{Timeout: time.Second})
	b2 := NewBridge(loop, "fs", HandlerFunc(func(r *Request) {
		r.Complete(true, nil)
	}), BridgeOptions{Timeout: time.Second})

	go func() { _, _ = b1.Call(context.Background(), &testOp{}) }()
	held := stuck.next(t)

	ok, err := b2.Call(context.Background(), &testOp{})
	if err != nil || !ok {
		t.Fatalf("b2.Call() = (%v, %v) while b1 is in flight, want (true, nil)", ok, err)
	}
	if !b1.Busy() {
		t.Error("b1 should still be busy")
	}
	held.Complete(true, nil)
}

func TestAbandonedRequestIsNeverDispatched(t *testing.T) {
	loop := startLoop(t)

	entered := make(chan struct{})
	block := make(chan struct{})
	slow := NewBridge(loop, "slow", HandlerFunc(func(r *Request) {
		close(entered)
		<-block
		r.Complete(true, nil)
	}), BridgeOptions{Timeout: time.Second})

	var handled atomic.Bool
	fast := NewBridge(loop, "fast", HandlerFunc(func(r *Request) {
		handled.Store(true)
		r.Complete(true, nil)
	}), BridgeOptions{Timeout: 20 * time.Millisecond})

	go func() { _, _ = slow.Call(context.Background(), &testOp{}) }()
	<-entered

	if _, err := fast.Call(context.Background(), &testOp{}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("fast.Call() error = %v, want ErrTimeout", err)
	}
	close(block)
	time.Sleep(50 * time.Millisecond)

	if handled.Load() {
		t.Error("handler ran for a request abandoned before dispatch")
	}
}

func TestCloseReleasesPendingCaller(t *testing.T) {
	loop := startLoop(t)
	h := newRecordingHandler()
	b := NewBridge(loop, "spi", h, BridgeOptions{})

	errc := make(chan error, 1)
	go func() {
		_, err := b.Call(context.Background(), &testOp{})
		errc <- err
	}()
	h.next(t)

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := <-errc; !errors.Is(err, ErrClosed) {
		t.Fatalf("pending Call() error = %v, want ErrClosed", err)
	}
	if _, err := b.Call(context.Background(), &testOp{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Call() after Close error = %v, want ErrClosed", err)
	}
}

func TestCallAfterLoopStop(t *testing.T) {
	loop := NewLoop(nil)
	loop.Start()
	loop.Stop()

	b := NewBridge(loop, "i2c", HandlerFunc(func(r *Request) { r.Complete(true, nil) }), BridgeOptions{})
	if _, err := b.Call(context.Background(), &testOp{}); !errors.Is(err, ErrLoopStopped) {
		t.Fatalf("Call() error = %v, want ErrLoopStopped", err)
	}
	if b.Busy() {
		t.Error("Busy() = true after a rejected call")
	}
}
