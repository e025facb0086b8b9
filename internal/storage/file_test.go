package storage

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chaz8081/linkit-go/internal/task"
)

func TestWriteCloseReopenRead(t *testing.T) {
	fs := newMockFS(t)
	d := newTestDrive(t, fs, DriveOptions{})
	ctx := t.Context()

	f, err := d.Open(ctx, "hello.txt", ModeWrite)
	if err != nil {
		t.Fatalf("Open(write) error = %v", err)
	}
	if n, err := f.Write([]byte("hello")); err != nil || n != 5 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err = d.Open(ctx, "hello.txt", ModeRead)
	if err != nil {
		t.Fatalf("Open(read) error = %v", err)
	}
	defer f.Close()

	buf := make([]byte, 5)
	if _, err := io.ReadFull(f, buf); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("read %q, want \"hello\"", buf)
	}
	if _, err := f.ReadByte(); err != io.EOF {
		t.Errorf("ReadByte() at end = %v, want io.EOF", err)
	}
}

func TestWriteSeekReadBackThroughSameHandle(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"under buffer", 10},
		{"exactly buffer", DefaultWriteBuffer},
		{"several buffers", 3*DefaultWriteBuffer + 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDrive(t, newMockFS(t), DriveOptions{})
			f, err := d.Open(t.Context(), "data.bin", ModeWrite)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer f.Close()

			want := make([]byte, tt.size)
			for i := range want {
				want[i] = byte(i * 7)
			}
			if _, err := f.Write(want); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				t.Fatalf("Seek(0) error = %v", err)
			}
			got, err := io.ReadAll(f)
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if !bytes.Equal(got, want) {
				t.Errorf("read back %d bytes, want %d identical bytes", len(got), len(want))
			}
		})
	}
}

func TestSizeFlushesPendingWrites(t *testing.T) {
	fs := newMockFS(t)
	d := newTestDrive(t, fs, DriveOptions{})
	f, err := d.Open(t.Context(), "log.txt", ModeWrite)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()

	f.Write([]byte("0123456789"))

	host := filepath.Join(fs.Root(), "log.txt")
	if st, _ := os.Stat(host); st.Size() != 0 {
		t.Fatalf("host size = %d before flush, want 0 (bytes should be buffered)", st.Size())
	}
	size, err := f.Size()
	if err != nil {
		t.Fatalf("Size() error = %v", err)
	}
	if size != 10 {
		t.Errorf("Size() = %d, want 10", size)
	}
	if st, _ := os.Stat(host); st.Size() != 10 {
		t.Errorf("host size = %d after Size(), want 10", st.Size())
	}
	if fs.writeCount() != 1 {
		t.Errorf("file system writes = %d, want 1 coalesced write", fs.writeCount())
	}
}

func TestSeekOutOfRangeLeavesCursor(t *testing.T) {
	d := newTestDrive(t, newMockFS(t), DriveOptions{})
	f, err := d.Open(t.Context(), "five.txt", ModeWrite)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()
	f.Write([]byte("abcde"))

	if pos, err := f.Seek(3, io.SeekStart); err != nil || pos != 3 {
		t.Fatalf("Seek(3) = %d, %v", pos, err)
	}

	tests := []struct {
		name   string
		offset int64
		whence int
	}{
		{"past end", 6, io.SeekStart},
		{"negative", -1, io.SeekStart},
		{"past end from current", 3, io.SeekCurrent},
		{"past end from end", 1, io.SeekEnd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.Seek(tt.offset, tt.whence); !errors.Is(err, ErrSeekRange) {
				t.Errorf("Seek() error = %v, want ErrSeekRange", err)
			}
			if f.Position() != 3 {
				t.Errorf("Position() = %d, want 3", f.Position())
			}
		})
	}

	b, err := f.ReadByte()
	if err != nil || b != 'd' {
		t.Errorf("ReadByte() after failed seeks = %q, %v; want 'd'", b, err)
	}

	if pos, err := f.Seek(0, io.SeekEnd); err != nil || pos != 5 {
		t.Errorf("Seek(0, end) = %d, %v; want 5", pos, err)
	}
}

func TestPeekDoesNotMoveCursor(t *testing.T) {
	fs := newMockFS(t)
	os.WriteFile(filepath.Join(fs.Root(), "p.txt"), []byte("xy"), 0o644)
	d := newTestDrive(t, fs, DriveOptions{})

	f, err := d.Open(t.Context(), "p.txt", ModeRead)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()

	for i := 0; i < 2; i++ {
		if b, err := f.Peek(); err != nil || b != 'x' {
			t.Fatalf("Peek() = %q, %v; want 'x'", b, err)
		}
	}
	if f.Available() != 2 {
		t.Errorf("Available() = %d, want 2", f.Available())
	}
	f.ReadByte()
	f.ReadByte()
	if _, err := f.Peek(); err != io.EOF {
		t.Errorf("Peek() at end = %v, want io.EOF", err)
	}
	if f.Available() != 0 {
		t.Errorf("Available() at end = %d, want 0", f.Available())
	}
}

func TestOpenModes(t *testing.T) {
	fs := newMockFS(t)
	os.WriteFile(filepath.Join(fs.Root(), "abc.txt"), []byte("abc"), 0o644)
	d := newTestDrive(t, fs, DriveOptions{})
	ctx := t.Context()

	if _, err := d.Open(ctx, "missing.txt", ModeRead); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Open(missing, read) error = %v, want not-exist", err)
	}

	r, err := d.Open(ctx, "abc.txt", ModeRead)
	if err != nil {
		t.Fatalf("Open(read) error = %v", err)
	}
	if r.Position() != 0 {
		t.Errorf("read-mode Position() = %d, want 0", r.Position())
	}
	if err := r.WriteByte('z'); !errors.Is(err, ErrReadOnly) {
		t.Errorf("WriteByte() on read-only file = %v, want ErrReadOnly", err)
	}
	r.Close()

	w, err := d.Open(ctx, "abc.txt", ModeWrite)
	if err != nil {
		t.Fatalf("Open(write) error = %v", err)
	}
	if w.Position() != 3 {
		t.Errorf("write-mode Position() = %d, want 3 (append)", w.Position())
	}
	w.WriteByte('d')
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got, _ := os.ReadFile(filepath.Join(fs.Root(), "abc.txt"))
	if string(got) != "abcd" {
		t.Errorf("content = %q, want \"abcd\"", got)
	}

	if _, err := d.Open(ctx, "abc.txt", Mode(0x7f)); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("Open(bad mode) error = %v, want ErrInvalidMode", err)
	}
}

func TestFullBufferWithFailingFlushRejectsByte(t *testing.T) {
	fs := newMockFS(t)
	d := newTestDrive(t, fs, DriveOptions{WriteBuffer: 4})
	f, err := d.Open(t.Context(), "w.txt", ModeWrite)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	fs.setFailWrite(true)
	n, err := f.Write([]byte("abcdef"))
	if n != 4 {
		t.Errorf("Write() n = %d, want 4 (buffer capacity)", n)
	}
	if !errors.Is(err, errMockWrite) {
		t.Errorf("Write() error = %v, want the file system error", err)
	}
	if f.Position() != 4 {
		t.Errorf("Position() = %d, want 4", f.Position())
	}

	// The buffered bytes survive the failure and land once the card is back.
	fs.setFailWrite(false)
	if err := f.WriteByte('e'); err != nil {
		t.Fatalf("WriteByte() after recovery error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(fs.Root(), "w.txt"))
	if string(got) != "abcde" {
		t.Errorf("content = %q, want \"abcde\"", got)
	}
}

func TestTimedOutFlushDoesNotWriteTwice(t *testing.T) {
	fs := newMockFS(t)
	fs.writeDelay = 150 * time.Millisecond
	d := newTestDrive(t, fs, DriveOptions{Timeout: 50 * time.Millisecond})

	f, err := d.Open(t.Context(), "slow.txt", ModeWrite)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := f.Write([]byte("abc")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := f.Flush(); !errors.Is(err, task.ErrTimeout) {
		t.Fatalf("Flush() error = %v, want task.ErrTimeout", err)
	}

	if err := f.Flush(); !errors.Is(err, ErrHandleLost) {
		t.Errorf("Flush() after timeout = %v, want ErrHandleLost", err)
	}
	if _, err := f.ReadByte(); !errors.Is(err, ErrHandleLost) {
		t.Errorf("ReadByte() after timeout = %v, want ErrHandleLost", err)
	}
	if _, err := f.Seek(0, io.SeekStart); !errors.Is(err, ErrHandleLost) {
		t.Errorf("Seek() after timeout = %v, want ErrHandleLost", err)
	}

	// Let the abandoned write land before releasing the descriptor.
	time.Sleep(200 * time.Millisecond)
	if err := f.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(fs.Root(), "slow.txt"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("file = %q, want \"abc\"", got)
	}
	if n := fs.writeCount(); n != 1 {
		t.Errorf("file system saw %d writes, want 1", n)
	}
}

func TestClosedFileFailsSafely(t *testing.T) {
	d := newTestDrive(t, newMockFS(t), DriveOptions{})
	f, err := d.Open(t.Context(), "c.txt", ModeWrite)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := f.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() = %v, want ErrClosed", err)
	}
	if err := f.WriteByte('a'); !errors.Is(err, ErrClosed) {
		t.Errorf("WriteByte() = %v, want ErrClosed", err)
	}
	if _, err := f.ReadByte(); !errors.Is(err, ErrClosed) {
		t.Errorf("ReadByte() = %v, want ErrClosed", err)
	}
	if _, err := f.Seek(0, io.SeekStart); !errors.Is(err, ErrClosed) {
		t.Errorf("Seek() = %v, want ErrClosed", err)
	}
	if f.Available() != 0 {
		t.Errorf("Available() = %d, want 0", f.Available())
	}
}

func TestDirectoryEnumeration(t *testing.T) {
	fs := newMockFS(t)
	d := newTestDrive(t, fs, DriveOptions{})
	ctx := t.Context()

	if err := d.Mkdir(ctx, "logs/2024"); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	f, err := d.Open(ctx, "logs/a.txt", ModeWrite)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	f.Close()

	dir, err := d.Open(ctx, "logs", ModeRead)
	if err != nil {
		t.Fatalf("Open(dir) error = %v", err)
	}
	defer dir.Close()
	if !dir.IsDir() {
		t.Fatal("IsDir() = false for a directory")
	}
	if err := dir.WriteByte('x'); !errors.Is(err, ErrIsDirectory) {
		t.Errorf("WriteByte() on directory = %v, want ErrIsDirectory", err)
	}

	list := func() []string {
		var names []string
		for {
			e, err := dir.OpenNextFile(ModeRead)
			if err == io.EOF {
				return names
			}
			if err != nil {
				t.Fatalf("OpenNextFile() error = %v", err)
			}
			names = append(names, e.Name())
			e.Close()
		}
	}

	got := list()
	if len(got) != 2 || got[0] != "2024" || got[1] != "a.txt" {
		t.Fatalf("entries = %v, want [2024 a.txt]", got)
	}
	if e, err := dir.OpenNextFile(ModeRead); e != nil || err != io.EOF {
		t.Errorf("OpenNextFile() after exhaustion = %v, %v; want nil, io.EOF", e, err)
	}

	if err := dir.RewindDirectory(); err != nil {
		t.Fatalf("RewindDirectory() error = %v", err)
	}
	if again := list(); len(again) != 2 {
		t.Errorf("entries after rewind = %v, want 2", again)
	}

	file, err := d.Open(ctx, "logs/a.txt", ModeRead)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer file.Close()
	if _, err := file.OpenNextFile(ModeRead); !errors.Is(err, ErrNotDirectory) {
		t.Errorf("OpenNextFile() on file = %v, want ErrNotDirectory", err)
	}
}
