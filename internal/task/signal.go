package task

import "context"

// Signal is a wait-token for events that are not call completions, such as
// "data became available" or "transmitter has room again". Posts coalesce:
// any number of Post calls before a Wait release exactly one waiter.
type Signal struct {
	ch chan struct{}
}

// NewSignal returns an unposted signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Post raises the signal. It never blocks.
func (s *Signal) Post() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Clear drops a pending post.
func (s *Signal) Clear() {
	select {
	case <-s.ch:
	default:
	}
}

// C exposes the signal for use in select.
func (s *Signal) C() <-chan struct{} { return s.ch }

// Wait blocks until the signal is posted or ctx is done.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
