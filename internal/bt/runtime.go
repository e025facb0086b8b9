package bt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/linkit-go/internal/task"
)

type result struct{ err error }

func (r *result) failure() error { return r.err }

type beginOp struct{ result }

type endOp struct{ result }

type scanOp struct {
	result
	timeout time.Duration
	count   int
}

type deviceInfoOp struct {
	result
	index int
	info  DeviceInfo
}

type connectOp struct {
	result
	address string
	pin     string
}

type disconnectOp struct{ result }

type readWriteOp struct {
	result
	buf       []byte
	length    int
	processed int
}

func (*beginOp) Name() string      { return "begin" }
func (*endOp) Name() string        { return "end" }
func (*scanOp) Name() string       { return "scan" }
func (*deviceInfoOp) Name() string { return "device_info" }
func (*connectOp) Name() string    { return "connect" }
func (*disconnectOp) Name() string { return "disconnect" }
func (*readWriteOp) Name() string  { return "read_write" }

// runtime owns the radio. Its fields are touched only on the task loop;
// blocking adapter calls run on their own goroutine and come back through
// Request.Complete.
type runtime struct {
	client  *Client
	adapter Adapter
	loop    *task.Loop
	log     *slog.Logger

	enabled bool
	devices []DeviceInfo
	scanned bool
	conn    Connection
	tx      Characteristic

	cancel    context.CancelFunc // aborts the scan or connect in flight
	cancelSeq uint64
}

func (rt *runtime) Handle(r *task.Request) {
	switch op := r.Op().(type) {
	case *beginOp:
		if rt.enabled {
			r.Complete(true, nil)
			return
		}
		go func() {
			err := rt.adapter.Enable()
			r.Complete(err == nil, func() {
				op.err = err
				rt.enabled = err == nil
			})
		}()

	case *endOp:
		rt.drop()
		rt.devices, rt.scanned, rt.enabled = nil, false, false
		r.Complete(true, nil)

	case *scanOp:
		if !rt.enabled {
			r.Complete(false, func() { op.err = ErrNotBegun })
			return
		}
		ctx, cancel := rt.cancelable(r, op.timeout)
		go func() {
			defer cancel()
			devices, err := rt.adapter.Scan(ctx, UARTServiceUUID)
			r.Complete(err == nil, func() {
				op.err = err
				if err == nil {
					rt.devices, rt.scanned = devices, true
					op.count = len(devices)
				}
			})
		}()

	case *deviceInfoOp:
		switch {
		case !rt.scanned:
			r.Complete(false, func() { op.err = ErrNoScanResults })
		case op.index < 0 || op.index >= len(rt.devices):
			r.Complete(false, func() { op.err = fmt.Errorf("%w: %d of %d", ErrIndexRange, op.index, len(rt.devices)) })
		default:
			info := rt.devices[op.index]
			r.Complete(true, func() { op.info = info })
		}

	case *connectOp:
		if !rt.enabled {
			r.Complete(false, func() { op.err = ErrNotBegun })
			return
		}
		rt.drop()
		ctx, cancel := rt.cancelable(r, 0)
		go func() {
			defer cancel()
			rt.connect(ctx, r, op)
		}()

	case *disconnectOp:
		conn := rt.conn
		rt.conn, rt.tx = nil, nil
		if conn == nil {
			r.Complete(false, func() { op.err = ErrNotConnected })
			return
		}
		go func() {
			err := conn.Disconnect()
			r.Complete(err == nil, func() { op.err = err })
		}()

	case *readWriteOp:
		tx := rt.tx
		if tx == nil {
			r.Complete(false, func() { op.err = ErrNotConnected })
			return
		}
		go func() {
			err := tx.Write(op.buf[:op.length])
			if errors.Is(err, ErrTxBusy) {
				time.AfterFunc(rt.client.opts.TxRetry, rt.client.writable.Post)
				r.Complete(true, func() { op.processed = 0 })
				return
			}
			r.Complete(err == nil, func() {
				op.err = err
				if err == nil {
					op.processed = op.length
				}
			})
		}()

	default:
		r.Complete(false, nil)
	}
}

// Cancel aborts the scan or connect the caller stopped waiting for.
func (rt *runtime) Cancel(r *task.Request) {
	if rt.cancel != nil && rt.cancelSeq == r.Seq() {
		rt.cancel()
		rt.cancel = nil
	}
}

func (rt *runtime) cancelable(r *task.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	if rt.cancel != nil {
		rt.cancel()
	}
	rt.cancel, rt.cancelSeq = cancel, r.Seq()
	return ctx, cancel
}

func (rt *runtime) connect(ctx context.Context, r *task.Request, op *connectOp) {
	conn, err := rt.adapter.Connect(ctx, op.address, op.pin)
	var tx Characteristic
	if err == nil {
		tx, err = rt.open(conn)
		if err != nil {
			conn.Disconnect()
		}
	}

	r.CompleteOr(err == nil, func() {
		op.err = err
		if err != nil {
			return
		}
		rt.conn, rt.tx = conn, tx
		conn.OnDisconnect(func() {
			rt.loop.Post(func() { rt.lost(conn) })
		})
	}, func() {
		if err == nil {
			rt.log.Warn("[BT] dropping connection completed after caller gave up", "address", op.address)
			conn.Disconnect()
		}
	})
}

// open discovers the UART characteristics and routes notifications into the
// client's receive ring.
func (rt *runtime) open(conn Connection) (Characteristic, error) {
	tx, err := conn.DiscoverCharacteristic(UARTServiceUUID, UARTRXCharUUID)
	if err != nil {
		return nil, fmt.Errorf("bt: discover RX characteristic: %w", err)
	}
	notify, err := conn.DiscoverCharacteristic(UARTServiceUUID, UARTTXCharUUID)
	if err != nil {
		return nil, fmt.Errorf("bt: discover TX characteristic: %w", err)
	}
	c := rt.client
	if err := notify.Subscribe(func(data []byte) {
		if ev := c.rx.PushSlice(data); ev > 0 {
			rt.log.Warn("[BT] receive buffer full, dropped oldest bytes", "count", ev)
		}
		c.readable.Post()
	}); err != nil {
		return nil, fmt.Errorf("bt: subscribe: %w", err)
	}
	return tx, nil
}

// lost runs on the loop when the peer drops the link.
func (rt *runtime) lost(conn Connection) {
	if rt.conn != conn {
		return
	}
	rt.conn, rt.tx = nil, nil
	rt.log.Warn("[BT] connection lost")
	rt.client.remoteClosed()
}

func (rt *runtime) drop() {
	conn := rt.conn
	if conn == nil {
		return
	}
	rt.conn, rt.tx = nil, nil
	go func() {
		if err := conn.Disconnect(); err != nil {
			rt.log.Warn("[BT] disconnect failed", "error", err)
		}
	}()
}
