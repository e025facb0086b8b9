// Package ringbuf provides the fixed-capacity byte ring that peripheral
// facades use to hand inbound data from runtime callbacks to the
// application.
package ringbuf

import "sync"

// Buffer is a circular byte buffer. When full, Push evicts the oldest byte
// so the newest data is always kept. It is safe for one producer and one
// consumer running concurrently.
type Buffer struct {
	mu   sync.Mutex
	buf  []byte
	head int // index of the oldest byte
	n    int // fill level
}

// New creates a buffer holding up to capacity bytes. It panics if capacity
// is less than 1.
func New(capacity int) *Buffer {
	if capacity < 1 {
		panic("ringbuf: capacity must be positive")
	}
	return &Buffer{buf: make([]byte, capacity)}
}

// Push appends b. It reports whether the oldest byte was evicted to make
// room.
func (r *Buffer) Push(b byte) (evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.push(b)
}

// PushSlice appends every byte of p and returns how many old bytes were
// evicted.
func (r *Buffer) PushSlice(p []byte) (evicted int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range p {
		if r.push(b) {
			evicted++
		}
	}
	return evicted
}

func (r *Buffer) push(b byte) bool {
	size := len(r.buf)
	r.buf[(r.head+r.n)%size] = b
	if r.n == size {
		r.head = (r.head + 1) % size
		return true
	}
	r.n++
	return false
}

// Pop removes and returns the oldest byte. ok is false when empty.
func (r *Buffer) Pop() (b byte, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == 0 {
		return 0, false
	}
	b = r.buf[r.head]
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return b, true
}

// Peek returns the oldest byte without removing it.
func (r *Buffer) Peek() (b byte, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == 0 {
		return 0, false
	}
	return r.buf[r.head], true
}

// Drain pops up to len(p) bytes into p and returns the count.
func (r *Buffer) Drain(p []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	size := len(r.buf)
	i := 0
	for ; i < len(p) && r.n > 0; i++ {
		p[i] = r.buf[r.head]
		r.head = (r.head + 1) % size
		r.n--
	}
	return i
}

// Available returns the number of bytes waiting to be read.
func (r *Buffer) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Cap returns the fixed capacity.
func (r *Buffer) Cap() int { return len(r.buf) }

// Reset discards all buffered bytes.
func (r *Buffer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head, r.n = 0, 0
}
