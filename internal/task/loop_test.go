package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoopRunsInOrderAndSurvivesPanic(t *testing.T) {
	loop := startLoop(t)

	var got []int
	done := make(chan struct{})
	loop.Post(func() { panic("handler bug") })
	for i := 1; i <= 3; i++ {
		loop.Post(func() { got = append(got, i) })
	}
	loop.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop stopped after a panic")
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("execution order = %v, want [1 2 3]", got)
	}
}

func TestLoopPostFromLoopDoesNotBlock(t *testing.T) {
	loop := startLoop(t)

	done := make(chan struct{})
	loop.Post(func() {
		for i := 0; i < 100; i++ {
			loop.Post(func() {})
		}
		loop.Post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("posting from the loop goroutine deadlocked")
	}
}

func TestLoopStopWithoutStart(t *testing.T) {
	loop := NewLoop(nil)
	loop.Stop()
	loop.Stop()
	if loop.Post(func() {}) {
		t.Error("Post() = true on a stopped loop")
	}
}

func TestSignalCoalesces(t *testing.T) {
	s := NewSignal()
	s.Post()
	s.Post()

	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Wait() error = %v, want DeadlineExceeded", err)
	}
}

func TestSignalClear(t *testing.T) {
	s := NewSignal()
	s.Post()
	s.Clear()

	select {
	case <-s.C():
		t.Error("signal still posted after Clear")
	default:
	}
}
