package storage

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/linkit-go/internal/task"
)

var errMockWrite = errors.New("mock: card removed")

// mockFS wraps a HostFS and lets tests inject write failures and slow
// opens or writes.
type mockFS struct {
	*HostFS

	mu         sync.Mutex
	failWrite  bool
	openDelay  time.Duration
	writeDelay time.Duration
	closed     []Descriptor
	writes     int
}

func newMockFS(t *testing.T) *mockFS {
	t.Helper()
	h, err := NewHostFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewHostFS() error = %v", err)
	}
	return &mockFS{HostFS: h}
}

func (m *mockFS) OpenHandle(path string, mode Mode) (Descriptor, Info, error) {
	m.mu.Lock()
	delay := m.openDelay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return m.HostFS.OpenHandle(path, mode)
}

func (m *mockFS) Write(fd Descriptor, p []byte) (int, error) {
	m.mu.Lock()
	fail, delay := m.failWrite, m.writeDelay
	m.writes++
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return 0, errMockWrite
	}
	return m.HostFS.Write(fd, p)
}

func (m *mockFS) CloseHandle(fd Descriptor) error {
	m.mu.Lock()
	m.closed = append(m.closed, fd)
	m.mu.Unlock()
	return m.HostFS.CloseHandle(fd)
}

func (m *mockFS) setFailWrite(v bool) {
	m.mu.Lock()
	m.failWrite = v
	m.mu.Unlock()
}

func (m *mockFS) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *mockFS) closedHandles() []Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Descriptor(nil), m.closed...)
}

// newTestDrive starts a loop and a begun drive over fs.
func newTestDrive(t *testing.T, fs FS, opts DriveOptions) *Drive {
	t.Helper()
	loop := task.NewLoop(nil)
	loop.Start()
	t.Cleanup(loop.Stop)

	d := NewDrive(loop, "sd", fs, opts)
	if err := d.Begin(t.Context()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}
