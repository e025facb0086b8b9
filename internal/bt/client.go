package bt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/linkit-go/internal/ringbuf"
	"github.com/chaz8081/linkit-go/internal/stream"
	"github.com/chaz8081/linkit-go/internal/task"
)

var (
	ErrNotBegun      = errors.New("bt: client not started")
	ErrNotConnected  = errors.New("bt: not connected")
	ErrConnectFailed = errors.New("bt: connect failed")
	ErrScanFailed    = errors.New("bt: scan failed")
	ErrNoScanResults = errors.New("bt: no scan results")
	ErrIndexRange    = errors.New("bt: device index out of range")
	ErrInvalidState  = errors.New("bt: invalid state for operation")
)

// State is the client's position in its lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateIdle
	StateScanning
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// scanGrace is how much longer than the scan window a Scan call waits for
// the radio to report back.
const scanGrace = 250 * time.Millisecond

// ClientOptions configures the client behavior.
type ClientOptions struct {
	Timeout  time.Duration // bound on every call except Scan (default 5s)
	RxBuffer int           // receive ring capacity in bytes (default 64)
	MTU      int           // max bytes per radio write (default 20)
	TxRetry  time.Duration // wait before retrying a congested write (default 20ms)
	Logger   *slog.Logger
}

// DefaultClientOptions returns sensible defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Timeout:  5 * time.Second,
		RxBuffer: 64,
		MTU:      20,
		TxRetry:  20 * time.Millisecond,
	}
}

// Client is a Bluetooth serial client. Inbound bytes are buffered in a ring
// filled by the radio; when it overflows the oldest bytes are lost.
type Client struct {
	bridge   *task.Bridge
	opts     ClientOptions
	log      *slog.Logger
	rx       *ringbuf.Buffer
	readable *task.Signal
	writable *task.Signal

	mu    sync.Mutex
	state State
	name  string
}

var _ stream.Stream = (*Client)(nil)

// NewClient creates a client whose radio work runs on loop.
func NewClient(loop *task.Loop, adapter Adapter, opts ClientOptions) *Client {
	def := DefaultClientOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RxBuffer <= 0 {
		opts.RxBuffer = def.RxBuffer
	}
	if opts.MTU <= 0 {
		opts.MTU = def.MTU
	}
	if opts.TxRetry <= 0 {
		opts.TxRetry = def.TxRetry
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		opts:     opts,
		log:      logger,
		rx:       ringbuf.New(opts.RxBuffer),
		readable: task.NewSignal(),
		writable: task.NewSignal(),
	}
	rt := &runtime{client: c, adapter: adapter, loop: loop, log: logger}
	// Deadlines are set per call, since a scan may outlast the call timeout.
	c.bridge = task.NewBridge(loop, "bt", rt, task.BridgeOptions{Logger: logger})
	return c
}

// Begin powers on the radio. name identifies this client in logs. Begin on
// a started client is a no-op.
func (c *Client) Begin(ctx context.Context, name string) error {
	switch c.State() {
	case StateIdle, StateConnected:
		return nil
	case StateScanning, StateConnecting:
		return task.ErrBusy
	}
	if err := c.call(ctx, c.opts.Timeout, &beginOp{}); err != nil {
		return fmt.Errorf("bt: begin: %w", err)
	}
	c.mu.Lock()
	c.state, c.name = StateIdle, name
	c.mu.Unlock()
	c.log.Info("[BT] client started", "name", name)
	return nil
}

// End disconnects, forgets scan results and powers the client down.
func (c *Client) End(ctx context.Context) error {
	if err := c.call(ctx, c.opts.Timeout, &endOp{}); err != nil {
		return fmt.Errorf("bt: end: %w", err)
	}
	c.setState(StateUninitialized)
	c.rx.Reset()
	return nil
}

// Close releases the client's bridge. A call in flight fails with
// task.ErrClosed.
func (c *Client) Close() error {
	return c.bridge.Close()
}

// Scan searches for peers for the given window and returns how many were
// found. Results replace those of any earlier scan.
func (c *Client) Scan(ctx context.Context, window time.Duration) (int, error) {
	if window <= 0 {
		window = c.opts.Timeout
	}
	if err := c.transition(StateIdle, StateScanning); err != nil {
		return 0, err
	}
	defer c.setState(StateIdle)

	op := &scanOp{timeout: window}
	if err := c.call(ctx, window+scanGrace, op); err != nil {
		return 0, c.failed(ErrScanFailed, err)
	}
	c.log.Info("[BT] scan complete", "devices", op.count, "window", window)
	return op.count, nil
}

// DeviceInfo returns entry i of the latest scan.
func (c *Client) DeviceInfo(ctx context.Context, i int) (DeviceInfo, error) {
	if c.State() == StateUninitialized {
		return DeviceInfo{}, ErrNotBegun
	}
	op := &deviceInfoOp{index: i}
	if err := c.call(ctx, c.opts.Timeout, op); err != nil {
		return DeviceInfo{}, fmt.Errorf("bt: device info: %w", err)
	}
	return op.info, nil
}

// Connect opens the serial link to the peer at address. Bytes left in the
// receive buffer from an earlier link are discarded.
func (c *Client) Connect(ctx context.Context, address, pin string) error {
	if err := c.transition(StateIdle, StateConnecting); err != nil {
		return err
	}
	c.rx.Reset()
	c.readable.Clear()

	if err := c.call(ctx, c.opts.Timeout, &connectOp{address: address, pin: pin}); err != nil {
		c.setState(StateIdle)
		return c.failed(ErrConnectFailed, err)
	}
	c.setState(StateConnected)
	c.log.Info("[BT] connected", "address", address)
	return nil
}

// Connected reports whether the serial link is up.
func (c *Client) Connected() bool { return c.State() == StateConnected }

// Disconnect closes the link. Buffered input stays readable.
func (c *Client) Disconnect(ctx context.Context) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	err := c.call(ctx, c.opts.Timeout, &disconnectOp{})
	c.setState(StateIdle)
	if err != nil {
		return fmt.Errorf("bt: disconnect: %w", err)
	}
	c.log.Info("[BT] disconnected")
	return nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Available returns the number of received bytes waiting to be read.
func (c *Client) Available() int { return c.rx.Available() }

// ReadByte pops one received byte, or returns io.EOF when none is buffered.
func (c *Client) ReadByte() (byte, error) {
	b, ok := c.rx.Pop()
	if !ok {
		return 0, io.EOF
	}
	return b, nil
}

// Peek returns the next received byte without consuming it.
func (c *Client) Peek() (byte, error) {
	b, ok := c.rx.Peek()
	if !ok {
		return 0, io.EOF
	}
	return b, nil
}

// Read copies buffered input into p without waiting for more.
func (c *Client) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := c.rx.Drain(p)
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// WaitReadable blocks until input is buffered, the link drops or ctx is
// done.
func (c *Client) WaitReadable(ctx context.Context) error {
	for c.rx.Available() == 0 {
		if !c.Connected() {
			return ErrNotConnected
		}
		if err := c.readable.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// WriteByte sends a single byte.
func (c *Client) WriteByte(b byte) error {
	_, err := c.Write([]byte{b})
	return err
}

// Write sends p in MTU-sized pieces. When the radio reports congestion the
// client waits for it to clear. A write that makes no progress for the call
// timeout fails with task.ErrTimeout and the count already sent.
func (c *Client) Write(p []byte) (int, error) {
	if !c.Connected() {
		return 0, ErrNotConnected
	}
	sent := 0
	var stalled time.Time
	for sent < len(p) {
		end := min(sent+c.opts.MTU, len(p))
		op := &readWriteOp{buf: append([]byte(nil), p[sent:end]...), length: end - sent}

		if err := c.call(context.Background(), c.opts.Timeout, op); err != nil {
			return sent, fmt.Errorf("bt: write: %w", err)
		}
		if op.processed > 0 {
			sent += op.processed
			stalled = time.Time{}
			continue
		}
		if stalled.IsZero() {
			stalled = time.Now()
		}
		left := c.opts.Timeout - time.Since(stalled)
		if left <= 0 {
			c.log.Warn("[BT] transmit congested, giving up", "sent", sent, "pending", len(p)-sent)
			return sent, fmt.Errorf("bt: write: %w", task.ErrTimeout)
		}
		if err := c.waitWritable(left); err != nil {
			return sent, fmt.Errorf("bt: write: %w", err)
		}
	}
	return sent, nil
}

// Flush is a no-op: writes are handed to the radio immediately.
func (c *Client) Flush() error { return nil }

func (c *Client) waitWritable(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := c.writable.Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return task.ErrTimeout
		}
		return err
	}
	if !c.Connected() {
		return ErrNotConnected
	}
	return nil
}

type btOp interface {
	task.Op
	failure() error
}

// call drives op through the bridge with its own deadline, turning an
// unsuccessful completion into the error the runtime recorded.
func (c *Client) call(ctx context.Context, d time.Duration, op btOp) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	ok, err := c.bridge.Call(ctx, op)
	if err != nil {
		return err
	}
	if !ok {
		if cause := op.failure(); cause != nil {
			return cause
		}
		return task.ErrFailed
	}
	return nil
}

// failed tags a call error with the facade's failure kind, keeping the
// cause visible to errors.Is.
func (c *Client) failed(kind, err error) error {
	return fmt.Errorf("%w: %w", kind, err)
}

func (c *Client) transition(from, to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state == from:
		c.state = to
		return nil
	case c.state == StateScanning || c.state == StateConnecting:
		return task.ErrBusy
	case c.state == StateUninitialized:
		return ErrNotBegun
	default:
		return fmt.Errorf("%w: %s", ErrInvalidState, c.state)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// remoteClosed runs on the loop after the peer dropped the link.
func (c *Client) remoteClosed() {
	c.mu.Lock()
	if c.state == StateConnected {
		c.state = StateIdle
	}
	c.mu.Unlock()
	c.readable.Post()
	c.writable.Post()
}
