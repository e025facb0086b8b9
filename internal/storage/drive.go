package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/linkit-go/internal/task"
)

// DriveOptions configures a Drive.
type DriveOptions struct {
	Timeout     time.Duration // per file system call; DefaultTimeout when zero
	WriteBuffer int           // bytes coalesced per File; DefaultWriteBuffer when zero
	Logger      *slog.Logger
}

// Drive is the application-side facade of one storage device.
type Drive struct {
	bridge *task.Bridge
	wbuf   int
	log    *slog.Logger

	mu    sync.Mutex
	begun bool
}

// NewDrive creates a facade named name whose file system calls run on loop.
func NewDrive(loop *task.Loop, name string, fs FS, opts DriveOptions) *Drive {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.WriteBuffer <= 0 {
		opts.WriteBuffer = DefaultWriteBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Drive{
		bridge: task.NewBridge(loop, name, &runtime{fs: fs}, task.BridgeOptions{
			Timeout: opts.Timeout,
			Logger:  logger,
		}),
		wbuf: opts.WriteBuffer,
		log:  logger.With("drive", name),
	}
}

// Begin checks that the drive root is reachable. Every other operation
// fails with ErrNotBegun until Begin succeeds.
func (d *Drive) Begin(ctx context.Context) error {
	op := &pathOp{kind: pathExists, path: "/"}
	if err := d.call(ctx, op); err != nil {
		return err
	}
	if !op.exists {
		return fmt.Errorf("storage: begin: drive root missing")
	}
	d.mu.Lock()
	d.begun = true
	d.mu.Unlock()
	d.log.Info("[FS] drive ready")
	return nil
}

// Close releases the drive's bridge. Open files must be closed first; their
// later operations fail with task.ErrClosed.
func (d *Drive) Close() error {
	d.mu.Lock()
	d.begun = false
	d.mu.Unlock()
	return d.bridge.Close()
}

// Open opens a file or directory. In ModeRead a missing path is an error;
// in ModeWrite an empty file is created.
func (d *Drive) Open(ctx context.Context, path string, mode Mode) (*File, error) {
	if err := d.ready(path); err != nil {
		return nil, err
	}
	if mode != ModeRead && mode != ModeWrite {
		return nil, ErrInvalidMode
	}
	op := &openOp{path: path, mode: mode}
	if err := d.call(ctx, op); err != nil {
		return nil, err
	}
	d.log.Debug("[FS] opened", "path", path, "mode", mode, "fd", op.fd, "dir", op.info.Dir)

	f := &File{
		drive: d,
		fd:    op.fd,
		path:  path,
		name:  op.info.Name,
		mode:  mode,
		dir:   op.info.Dir,
	}
	if !f.dir {
		f.buf = make([]byte, 0, d.wbuf)
		if mode == ModeWrite {
			f.pos = op.info.Size
		}
	}
	return f, nil
}

// Exists reports whether path names a file or directory.
func (d *Drive) Exists(ctx context.Context, path string) (bool, error) {
	if err := d.ready(path); err != nil {
		return false, err
	}
	op := &pathOp{kind: pathExists, path: path}
	if err := d.call(ctx, op); err != nil {
		return false, err
	}
	return op.exists, nil
}

// Mkdir creates path along with any missing parents.
func (d *Drive) Mkdir(ctx context.Context, path string) error {
	return d.pathCall(ctx, pathMkdir, path)
}

// Remove deletes a file. Directories are refused.
func (d *Drive) Remove(ctx context.Context, path string) error {
	return d.pathCall(ctx, pathRemove, path)
}

// Rmdir deletes an empty directory.
func (d *Drive) Rmdir(ctx context.Context, path string) error {
	return d.pathCall(ctx, pathRmdir, path)
}

func (d *Drive) pathCall(ctx context.Context, kind pathKind, path string) error {
	if err := d.ready(path); err != nil {
		return err
	}
	return d.call(ctx, &pathOp{kind: kind, path: path})
}

func (d *Drive) ready(path string) error {
	d.mu.Lock()
	begun := d.begun
	d.mu.Unlock()
	if !begun {
		return ErrNotBegun
	}
	if len(path) > MaxPathLen {
		return fmt.Errorf("%w: %d bytes", ErrPathTooLong, len(path))
	}
	return nil
}

// call drives op through the bridge and turns an unsuccessful completion
// into the error the file system reported.
func (d *Drive) call(ctx context.Context, op fsOp) error {
	ok, err := d.bridge.Call(ctx, op)
	if err != nil {
		return fmt.Errorf("storage: %s: %w", op.Name(), err)
	}
	if !ok {
		cause := op.failure()
		if cause == nil {
			cause = task.ErrFailed
		}
		return fmt.Errorf("storage: %s: %w", op.Name(), cause)
	}
	return nil
}

type fsOp interface {
	task.Op
	failure() error
}

type result struct{ err error }

func (r *result) failure() error { return r.err }

type openOp struct {
	result
	path string
	mode Mode
	fd   Descriptor
	info Info
}

type readOp struct {
	result
	fd  Descriptor
	dst []byte
	n   int
	eof bool
}

type peekOp struct {
	result
	fd  Descriptor
	pos int64
	b   byte
	eof bool
}

type writeOp struct {
	result
	fd   Descriptor
	data []byte
	n    int
}

type seekOp struct {
	result
	fd  Descriptor
	pos int64
}

type sizeOp struct {
	result
	fd   Descriptor
	size int64
}

type closeOp struct {
	result
	fd Descriptor
}

type listOp struct {
	result
	fd    Descriptor
	entry Entry
	eof   bool
}

type rewindOp struct {
	result
	fd Descriptor
}

type pathKind int

const (
	pathExists pathKind = iota
	pathMkdir
	pathRemove
	pathRmdir
)

type pathOp struct {
	result
	kind   pathKind
	path   string
	exists bool
}

func (*openOp) Name() string   { return "open" }
func (*readOp) Name() string   { return "read" }
func (*peekOp) Name() string   { return "peek" }
func (*writeOp) Name() string  { return "write" }
func (*seekOp) Name() string   { return "seek" }
func (*sizeOp) Name() string   { return "size" }
func (*closeOp) Name() string  { return "close" }
func (*listOp) Name() string   { return "list" }
func (*rewindOp) Name() string { return "rewind" }

func (o *pathOp) Name() string {
	switch o.kind {
	case pathMkdir:
		return "mkdir"
	case pathRemove:
		return "remove"
	case pathRmdir:
		return "rmdir"
	default:
		return "exists"
	}
}

// runtime executes file system operations on the task loop. Calls into the
// FS complete synchronously.
type runtime struct {
	fs FS
}

func (rt *runtime) Handle(r *task.Request) {
	switch op := r.Op().(type) {
	case *openOp:
		fd, info, err := rt.fs.OpenHandle(op.path, op.mode)
		r.CompleteOr(err == nil, func() {
			op.fd, op.info, op.err = fd, info, err
		}, func() {
			// The caller gave up before seeing fd.
			if err == nil {
				rt.fs.CloseHandle(fd)
			}
		})

	case *readOp:
		tmp := make([]byte, len(op.dst))
		n, err := rt.fs.Read(op.fd, tmp)
		eof := errors.Is(err, io.EOF)
		ok := err == nil || eof
		r.Complete(ok, func() {
			op.n = copy(op.dst, tmp[:n])
			op.eof = eof && n == 0
			if !ok {
				op.err = err
			}
		})

	case *peekOp:
		var one [1]byte
		n, err := rt.fs.Read(op.fd, one[:])
		if n == 1 {
			err = rt.fs.Seek(op.fd, op.pos)
		}
		eof := n == 0 && errors.Is(err, io.EOF)
		ok := eof || (n == 1 && err == nil)
		r.Complete(ok, func() {
			op.b, op.eof = one[0], eof
			if !ok {
				op.err = err
			}
		})

	case *writeOp:
		n, err := rt.fs.Write(op.fd, op.data)
		r.Complete(err == nil, func() { op.n, op.err = n, err })

	case *seekOp:
		err := rt.fs.Seek(op.fd, op.pos)
		r.Complete(err == nil, func() { op.err = err })

	case *sizeOp:
		size, err := rt.fs.Size(op.fd)
		r.Complete(err == nil, func() { op.size, op.err = size, err })

	case *closeOp:
		err := rt.fs.CloseHandle(op.fd)
		r.Complete(err == nil, func() { op.err = err })

	case *listOp:
		e, err := rt.fs.ListNext(op.fd)
		eof := errors.Is(err, io.EOF)
		ok := err == nil || eof
		r.Complete(ok, func() {
			op.entry, op.eof = e, eof
			if !ok {
				op.err = err
			}
		})

	case *rewindOp:
		err := rt.fs.Rewind(op.fd)
		r.Complete(err == nil, func() { op.err = err })

	case *pathOp:
		var (
			exists bool
			err    error
		)
		switch op.kind {
		case pathExists:
			exists, err = rt.fs.Exists(op.path)
		case pathMkdir:
			err = rt.fs.Mkdir(op.path)
		case pathRemove:
			err = rt.fs.Remove(op.path)
		case pathRmdir:
			err = rt.fs.Rmdir(op.path)
		}
		r.Complete(err == nil, func() { op.exists, op.err = exists, err })

	default:
		r.Complete(false, nil)
	}
}
