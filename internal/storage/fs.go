// Package storage exposes a board drive (SD card or flash) as files with a
// write-coalescing buffer. Every access to the underlying file system is
// one call through the task bridge.
package storage

import (
	"errors"
	"time"
)

const (
	// DefaultWriteBuffer is how many written bytes a File holds before
	// handing them to the file system in one write.
	DefaultWriteBuffer = 128

	// MaxPathLen is the longest path the drive accepts.
	MaxPathLen = 260

	// DefaultTimeout bounds every file system call.
	DefaultTimeout = 5 * time.Second
)

// Mode selects how a file is opened. The values match the board's
// FILE_READ and FILE_WRITE constants.
type Mode uint8

const (
	// ModeRead opens an existing file read-only with the cursor at the start.
	ModeRead Mode = 0x01
	// ModeWrite opens for reading and writing, creating the file when it is
	// missing, with the cursor at the end.
	ModeWrite Mode = 0x13
)

const modeWritable Mode = 0x02

// Writable reports whether m allows writes.
func (m Mode) Writable() bool { return m&modeWritable != 0 }

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return "mode(?)"
	}
}

var (
	ErrNotBegun     = errors.New("storage: drive not initialized")
	ErrClosed       = errors.New("storage: file already closed")
	ErrPathTooLong  = errors.New("storage: path too long")
	ErrReadOnly     = errors.New("storage: file not opened for writing")
	ErrIsDirectory  = errors.New("storage: is a directory")
	ErrNotDirectory = errors.New("storage: not a directory")
	ErrSeekRange    = errors.New("storage: seek position out of range")
	ErrInvalidMode  = errors.New("storage: invalid open mode")

	// ErrHandleLost is returned by every operation on a File after a call on
	// it was abandoned. The abandoned call may still have reached the file
	// system, so the handle's cursor and write buffer are unknown.
	ErrHandleLost = errors.New("storage: file state lost after an interrupted call")
)

// Descriptor is the numeric handle the file system hands out for an open
// file or directory.
type Descriptor uint32

// Info describes a freshly opened handle.
type Info struct {
	Name string // base name
	Dir  bool
	Size int64
}

// Entry is one item of a directory listing.
type Entry struct {
	Name string
	Dir  bool
}

// FS is the runtime-side file system. Its methods are called only from the
// task loop. Read and ListNext return io.EOF at the end.
type FS interface {
	OpenHandle(path string, mode Mode) (Descriptor, Info, error)
	Read(fd Descriptor, p []byte) (int, error)
	Write(fd Descriptor, p []byte) (int, error)
	Seek(fd Descriptor, pos int64) error
	Size(fd Descriptor) (int64, error)
	CloseHandle(fd Descriptor) error

	ListNext(dir Descriptor) (Entry, error)
	Rewind(dir Descriptor) error

	Exists(path string) (bool, error)
	Mkdir(path string) error
	Remove(path string) error
	Rmdir(path string) error
}
