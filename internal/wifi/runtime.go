package wifi

import (
	"context"
	"log/slog"
	"net"

	"github.com/chaz8081/linkit-go/internal/task"
)

type result struct{ err error }

func (r *result) failure() error { return r.err }

type enableOp struct{ result }

type disableOp struct{ result }

type joinOp struct {
	result
	params JoinParams
	info   IPInfo
}

type leaveOp struct{ result }

type scanOp struct {
	result
	networks []Network
}

type resolveOp struct {
	result
	host string
	ip   net.IP
}

func (*enableOp) Name() string  { return "enable" }
func (*disableOp) Name() string { return "disable" }
func (*joinOp) Name() string    { return "join" }
func (*leaveOp) Name() string   { return "leave" }
func (*scanOp) Name() string    { return "scan" }
func (*resolveOp) Name() string { return "resolve" }

// runtime owns the station. enabled and joined are touched only on the task
// loop; station calls run on their own goroutine.
type runtime struct {
	station Station
	log     *slog.Logger

	enabled bool
	joined  bool

	cancel    context.CancelFunc
	cancelSeq uint64
}

func (rt *runtime) Handle(r *task.Request) {
	switch op := r.Op().(type) {
	case *enableOp:
		if rt.enabled {
			r.Complete(true, nil)
			return
		}
		ctx, cancel := rt.cancelable(r)
		go func() {
			defer cancel()
			err := rt.station.Enable(ctx)
			r.Complete(err == nil, func() {
				op.err = err
				rt.enabled = err == nil
			})
		}()

	case *disableOp:
		rt.enabled, rt.joined = false, false
		go func() {
			err := rt.station.Disable()
			r.Complete(err == nil, func() { op.err = err })
		}()

	case *joinOp:
		if !rt.enabled {
			r.Complete(false, func() { op.err = ErrNotBegun })
			return
		}
		if rt.joined {
			rt.joined = false
			rt.leave()
		}
		ctx, cancel := rt.cancelable(r)
		go func() {
			defer cancel()
			info, err := rt.station.Join(ctx, op.params)
			r.CompleteOr(err == nil, func() {
				op.info, op.err = info, err
				rt.joined = err == nil
			}, func() {
				if err == nil {
					rt.log.Warn("[WIFI] leaving network joined after caller gave up", "ssid", op.params.SSID)
					rt.leave()
				}
			})
		}()

	case *leaveOp:
		if !rt.joined {
			r.Complete(false, func() { op.err = ErrNotConnected })
			return
		}
		rt.joined = false
		go func() {
			err := rt.station.Leave()
			r.Complete(err == nil, func() { op.err = err })
		}()

	case *scanOp:
		if !rt.enabled {
			r.Complete(false, func() { op.err = ErrNotBegun })
			return
		}
		ctx, cancel := rt.cancelable(r)
		go func() {
			defer cancel()
			networks, err := rt.station.Scan(ctx)
			r.Complete(err == nil, func() { op.networks, op.err = networks, err })
		}()

	case *resolveOp:
		if !rt.joined {
			r.Complete(false, func() { op.err = ErrNotConnected })
			return
		}
		ctx, cancel := rt.cancelable(r)
		go func() {
			defer cancel()
			ip, err := rt.station.Resolve(ctx, op.host)
			r.Complete(err == nil, func() { op.ip, op.err = ip, err })
		}()

	default:
		r.Complete(false, nil)
	}
}

// Cancel aborts the station call the caller stopped waiting for.
func (rt *runtime) Cancel(r *task.Request) {
	if rt.cancel != nil && rt.cancelSeq == r.Seq() {
		rt.cancel()
		rt.cancel = nil
	}
}

func (rt *runtime) cancelable(r *task.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	if rt.cancel != nil {
		rt.cancel()
	}
	rt.cancel, rt.cancelSeq = cancel, r.Seq()
	return ctx, cancel
}

func (rt *runtime) leave() {
	go func() {
		if err := rt.station.Leave(); err != nil {
			rt.log.Warn("[WIFI] leave failed", "error", err)
		}
	}()
}
