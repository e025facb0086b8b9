package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/chaz8081/linkit-go/internal/task"
)

// File is an open file or directory on a Drive. Writes are held in a small
// buffer and handed to the file system in one call when it fills; the
// buffer is flushed before every read, peek, seek, size query and close.
//
// A File belongs to the goroutine that opened it. Its methods are bounded
// by the drive timeout.
type File struct {
	drive *Drive
	fd    Descriptor
	path  string
	name  string
	mode  Mode
	dir   bool

	pos    int64 // logical cursor, including buffered bytes
	buf    []byte
	closed bool
	lost   error // why the handle's state became unknown
}

var _ io.ReadWriteSeeker = (*File)(nil)

// Name returns the base name of the file.
func (f *File) Name() string { return f.name }

// Path returns the path the file was opened with.
func (f *File) Path() string { return f.path }

// IsDir reports whether the handle is a directory.
func (f *File) IsDir() bool { return f.dir }

func (f *File) ctx() context.Context { return context.Background() }

func (f *File) usable() error {
	if f.closed {
		return ErrClosed
	}
	if f.lost != nil {
		return ErrHandleLost
	}
	if f.dir {
		return ErrIsDirectory
	}
	return nil
}

// WriteByte appends c to the write buffer. A full buffer is flushed first;
// if that flush fails the byte is not accepted.
func (f *File) WriteByte(c byte) error {
	if err := f.usable(); err != nil {
		return err
	}
	if !f.mode.Writable() {
		return ErrReadOnly
	}
	if len(f.buf) == cap(f.buf) {
		if err := f.flush(); err != nil {
			return err
		}
	}
	f.buf = append(f.buf, c)
	f.pos++
	return nil
}

// Write implements io.Writer on top of WriteByte.
func (f *File) Write(p []byte) (int, error) {
	for i, c := range p {
		if err := f.WriteByte(c); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// Flush hands buffered bytes to the file system.
func (f *File) Flush() error {
	if err := f.usable(); err != nil {
		return err
	}
	return f.flush()
}

// do runs op against the handle's descriptor. When the bridge gives up on
// the call the file system may still execute it, so the handle is marked
// lost and its buffered bytes are dropped rather than written twice.
func (f *File) do(op fsOp) error {
	err := f.drive.call(f.ctx(), op)
	if err != nil && interrupted(err) {
		f.lost = err
		f.buf = f.buf[:0]
		f.drive.log.Warn("[FS] handle state lost", "path", f.path, "op", op.Name(), "error", err)
	}
	return err
}

func interrupted(err error) bool {
	return errors.Is(err, task.ErrTimeout) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (f *File) flush() error {
	if len(f.buf) == 0 {
		return nil
	}
	op := &writeOp{fd: f.fd, data: append([]byte(nil), f.buf...)}
	err := f.do(op)
	if op.n > 0 {
		// Keep whatever the file system did not take.
		f.buf = f.buf[:copy(f.buf, f.buf[op.n:])]
	}
	if err != nil {
		return err
	}
	if len(f.buf) > 0 {
		return fmt.Errorf("storage: write: %w", io.ErrShortWrite)
	}
	return nil
}

// ReadByte returns the byte under the cursor and advances it. At end of
// file it returns io.EOF.
func (f *File) ReadByte() (byte, error) {
	var one [1]byte
	if _, err := f.Read(one[:]); err != nil {
		return 0, err
	}
	return one[0], nil
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	if err := f.usable(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := f.flush(); err != nil {
		return 0, err
	}
	op := &readOp{fd: f.fd, dst: p}
	if err := f.do(op); err != nil {
		return 0, err
	}
	if op.eof {
		return 0, io.EOF
	}
	f.pos += int64(op.n)
	return op.n, nil
}

// Peek returns the byte under the cursor without moving it.
func (f *File) Peek() (byte, error) {
	if err := f.usable(); err != nil {
		return 0, err
	}
	if err := f.flush(); err != nil {
		return 0, err
	}
	op := &peekOp{fd: f.fd, pos: f.pos}
	if err := f.do(op); err != nil {
		return 0, err
	}
	if op.eof {
		return 0, io.EOF
	}
	return op.b, nil
}

// Available returns how many bytes remain between the cursor and the end of
// the file. It returns 0 when the size cannot be determined.
func (f *File) Available() int {
	size, err := f.Size()
	if err != nil || size <= f.pos {
		return 0
	}
	return int(size - f.pos)
}

// Size flushes pending writes and returns the file size.
func (f *File) Size() (int64, error) {
	if err := f.usable(); err != nil {
		return 0, err
	}
	if err := f.flush(); err != nil {
		return 0, err
	}
	op := &sizeOp{fd: f.fd}
	if err := f.do(op); err != nil {
		return 0, err
	}
	return op.size, nil
}

// Position returns the cursor, counting bytes still in the write buffer.
func (f *File) Position() int64 { return f.pos }

// Seek implements io.Seeker. Positions before 0 or past the end of the file
// fail with ErrSeekRange and leave the cursor where it was.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	size, err := f.Size()
	if err != nil {
		return f.pos, err
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = f.pos + offset
	case io.SeekEnd:
		target = size + offset
	default:
		return f.pos, fmt.Errorf("storage: seek: invalid whence %d", whence)
	}
	if target < 0 || target > size {
		return f.pos, fmt.Errorf("%w: %d of %d", ErrSeekRange, target, size)
	}

	if err := f.do(&seekOp{fd: f.fd, pos: target}); err != nil {
		return f.pos, err
	}
	f.pos = target
	return target, nil
}

// Close flushes pending writes and releases the descriptor. Later
// operations on f fail with ErrClosed.
func (f *File) Close() error {
	if f.closed {
		return ErrClosed
	}
	var flushErr error
	if !f.dir && f.lost == nil {
		flushErr = f.flush()
	}
	f.closed = true
	f.buf = nil
	closeErr := f.drive.call(f.ctx(), &closeOp{fd: f.fd})
	f.drive.log.Debug("[FS] closed", "path", f.path, "fd", f.fd)
	return errors.Join(flushErr, closeErr)
}

// OpenNextFile opens the next entry of a directory. When every entry has
// been returned it yields nil, io.EOF.
func (f *File) OpenNextFile(mode Mode) (*File, error) {
	if f.closed {
		return nil, ErrClosed
	}
	if !f.dir {
		return nil, ErrNotDirectory
	}
	if f.lost != nil {
		return nil, ErrHandleLost
	}
	op := &listOp{fd: f.fd}
	if err := f.do(op); err != nil {
		return nil, err
	}
	if op.eof {
		return nil, io.EOF
	}
	return f.drive.Open(f.ctx(), path.Join(f.path, op.entry.Name), mode)
}

// RewindDirectory restarts the enumeration of OpenNextFile.
func (f *File) RewindDirectory() error {
	if f.closed {
		return ErrClosed
	}
	if !f.dir {
		return ErrNotDirectory
	}
	if f.lost != nil {
		return ErrHandleLost
	}
	return f.do(&rewindOp{fd: f.fd})
}
