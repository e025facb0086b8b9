package task

import (
	"log/slog"
	"sync"
)

// Loop is the runtime context: one goroutine draining one FIFO dispatch
// queue. Handlers and completion callbacks of every bridge sharing the loop
// run here, one at a time.
type Loop struct {
	log *slog.Logger

	mu      sync.Mutex
	queue   []func()
	started bool
	closed  bool

	notify  chan struct{} // coalesced "queue not empty"
	done    chan struct{}
	stopped chan struct{}
}

// NewLoop creates a stopped loop. A nil logger means slog.Default().
func NewLoop(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		log:     logger,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the loop goroutine. Calling Start twice is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	if l.started || l.closed {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()

	go l.run()
}

// Stop terminates the loop and waits for the item in progress to finish.
// Queued work that has not started is dropped.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.stopped
		return
	}
	l.closed = true
	started := l.started
	l.queue = nil
	close(l.done)
	l.mu.Unlock()

	if started {
		<-l.stopped
	} else {
		close(l.stopped)
	}
}

// Post appends fn to the dispatch queue. It never blocks, so it is safe to
// call from handlers, hardware callbacks and application code alike.
// Returns false once the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) run() {
	defer close(l.stopped)
	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			l.exec(fn)
		}
		select {
		case <-l.notify:
		case <-l.done:
			return
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

// exec runs one queued item. A panicking handler must not take the runtime
// context down with it.
func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("[TASK] recovered panic on runtime loop", "panic", r)
		}
	}()
	fn()
}
