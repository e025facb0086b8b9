package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
)

// HostFS serves a drive from a directory on the host. Paths are confined to
// the root: "/", ".." and absolute paths all resolve inside it.
type HostFS struct {
	root string

	mu      sync.Mutex
	next    Descriptor
	handles map[Descriptor]*hostHandle
}

type hostHandle struct {
	f       *os.File
	dir     bool
	entries []os.DirEntry
	cursor  int
}

var _ FS = (*HostFS)(nil)

// NewHostFS returns a file system rooted at root, creating the directory if
// needed.
func NewHostFS(root string) (*HostFS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating root %s: %w", root, err)
	}
	return &HostFS{root: root, handles: make(map[Descriptor]*hostHandle)}, nil
}

// Root returns the host directory backing the drive.
func (h *HostFS) Root() string { return h.root }

func (h *HostFS) resolve(p string) string {
	return filepath.Join(h.root, filepath.FromSlash(path.Clean("/"+p)))
}

func (h *HostFS) OpenHandle(p string, mode Mode) (Descriptor, Info, error) {
	var flag int
	switch mode {
	case ModeRead:
		flag = os.O_RDONLY
	case ModeWrite:
		flag = os.O_RDWR | os.O_CREATE
	default:
		return 0, Info{}, ErrInvalidMode
	}

	full := h.resolve(p)
	st, err := os.Stat(full)
	if err == nil && st.IsDir() {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(full, flag, 0o644)
	if err != nil {
		return 0, Info{}, err
	}
	st, err = f.Stat()
	if err != nil {
		f.Close()
		return 0, Info{}, err
	}

	hh := &hostHandle{f: f, dir: st.IsDir()}
	if hh.dir {
		if hh.entries, err = os.ReadDir(full); err != nil {
			f.Close()
			return 0, Info{}, err
		}
	} else if mode == ModeWrite {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return 0, Info{}, err
		}
	}

	h.mu.Lock()
	h.next++
	fd := h.next
	h.handles[fd] = hh
	h.mu.Unlock()

	name := path.Base(path.Clean("/" + p))
	return fd, Info{Name: name, Dir: hh.dir, Size: st.Size()}, nil
}

func (h *HostFS) handle(fd Descriptor) (*hostHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hh, ok := h.handles[fd]
	if !ok {
		return nil, fmt.Errorf("storage: descriptor %d: %w", fd, os.ErrClosed)
	}
	return hh, nil
}

func (h *HostFS) Read(fd Descriptor, p []byte) (int, error) {
	hh, err := h.handle(fd)
	if err != nil {
		return 0, err
	}
	if hh.dir {
		return 0, ErrIsDirectory
	}
	return hh.f.Read(p)
}

func (h *HostFS) Write(fd Descriptor, p []byte) (int, error) {
	hh, err := h.handle(fd)
	if err != nil {
		return 0, err
	}
	if hh.dir {
		return 0, ErrIsDirectory
	}
	return hh.f.Write(p)
}

func (h *HostFS) Seek(fd Descriptor, pos int64) error {
	hh, err := h.handle(fd)
	if err != nil {
		return err
	}
	_, err = hh.f.Seek(pos, io.SeekStart)
	return err
}

func (h *HostFS) Size(fd Descriptor) (int64, error) {
	hh, err := h.handle(fd)
	if err != nil {
		return 0, err
	}
	st, err := hh.f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func (h *HostFS) CloseHandle(fd Descriptor) error {
	h.mu.Lock()
	hh, ok := h.handles[fd]
	delete(h.handles, fd)
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("storage: descriptor %d: %w", fd, os.ErrClosed)
	}
	return hh.f.Close()
}

func (h *HostFS) ListNext(fd Descriptor) (Entry, error) {
	hh, err := h.handle(fd)
	if err != nil {
		return Entry{}, err
	}
	if !hh.dir {
		return Entry{}, ErrNotDirectory
	}
	if hh.cursor >= len(hh.entries) {
		return Entry{}, io.EOF
	}
	e := hh.entries[hh.cursor]
	hh.cursor++
	return Entry{Name: e.Name(), Dir: e.IsDir()}, nil
}

func (h *HostFS) Rewind(fd Descriptor) error {
	hh, err := h.handle(fd)
	if err != nil {
		return err
	}
	if !hh.dir {
		return ErrNotDirectory
	}
	hh.cursor = 0
	return nil
}

func (h *HostFS) Exists(p string) (bool, error) {
	_, err := os.Stat(h.resolve(p))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (h *HostFS) Mkdir(p string) error {
	return os.MkdirAll(h.resolve(p), 0o755)
}

func (h *HostFS) Remove(p string) error {
	full := h.resolve(p)
	st, err := os.Stat(full)
	if err != nil {
		return err
	}
	if st.IsDir() {
		return ErrIsDirectory
	}
	return os.Remove(full)
}

func (h *HostFS) Rmdir(p string) error {
	full := h.resolve(p)
	if full == filepath.Clean(h.root) {
		return fmt.Errorf("storage: refusing to remove drive root")
	}
	st, err := os.Stat(full)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return ErrNotDirectory
	}
	// os.Remove fails on a non-empty directory.
	return os.Remove(full)
}
