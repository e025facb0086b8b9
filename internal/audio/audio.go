// Package audio plays WAV files from board storage through the host's
// output device.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/linkit-go/internal/storage"
	"github.com/chaz8081/linkit-go/internal/task"
)

var (
	ErrVolumeRange = errors.New("audio: volume out of range 0-6")
	ErrNotPlaying  = errors.New("audio: nothing is playing")
	ErrNotPaused   = errors.New("audio: playback is not paused")
)

// Status is the playback state. The values match the board's event codes.
type Status int

const (
	StatusFailed Status = -1
	StatusStop   Status = 1
	StatusPause  Status = 2
	StatusResume Status = 3 // playing
	StatusEnd    Status = 5
)

func (s Status) String() string {
	switch s {
	case StatusFailed:
		return "failed"
	case StatusStop:
		return "stopped"
	case StatusPause:
		return "paused"
	case StatusResume:
		return "playing"
	case StatusEnd:
		return "ended"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Options configures an Audio facade.
type Options struct {
	Timeout time.Duration // bound on every call (default 5s)
	Volume  uint8         // initial volume step (default MaxVolume)
	Logger  *slog.Logger
}

// Audio is the playback facade.
type Audio struct {
	bridge *task.Bridge
	device *task.Loop // serial queue for player calls
	log    *slog.Logger
	ended  *task.Signal

	mu     sync.Mutex
	status Status
	path   string
	volume uint8
}

// New creates an Audio facade whose player work runs on loop.
func New(loop *task.Loop, player Player, opts Options) *Audio {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Volume == 0 || opts.Volume > MaxVolume {
		opts.Volume = MaxVolume
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Audio{
		log:    logger,
		ended:  task.NewSignal(),
		status: StatusStop,
		volume: opts.Volume,
	}
	player.SetVolume(opts.Volume)
	a.device = task.NewLoop(logger)
	a.device.Start()
	rt := &runtime{audio: a, player: player, loop: loop, device: a.device}
	a.bridge = task.NewBridge(loop, "audio", rt, task.BridgeOptions{Timeout: opts.Timeout, Logger: logger})
	return a
}

// Close releases the facade's bridge and waits for the device call in
// progress, if any.
func (a *Audio) Close() error {
	err := a.bridge.Close()
	a.device.Stop()
	return err
}

// Play decodes the WAV file at path on drive and starts playing it,
// replacing anything already playing. It returns once playback started.
func (a *Audio) Play(ctx context.Context, drive *storage.Drive, path string) error {
	f, err := drive.Open(ctx, path, storage.ModeRead)
	if err != nil {
		return fmt.Errorf("audio: play %s: %w", path, err)
	}
	pcm, err := DecodeWAV(f)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		a.setStatus(StatusFailed)
		return fmt.Errorf("audio: play %s: %w", path, err)
	}

	a.ended.Clear()
	if err := a.call(ctx, &playOp{pcm: pcm}); err != nil {
		a.setStatus(StatusFailed)
		return fmt.Errorf("audio: play %s: %w", path, err)
	}
	a.mu.Lock()
	a.status, a.path = StatusResume, path
	a.mu.Unlock()
	a.log.Info("[AUDIO] playing", "path", path, "rate", pcm.SampleRate, "channels", pcm.Channels,
		"duration", time.Duration(pcm.Frames())*time.Second/time.Duration(pcm.SampleRate))
	return nil
}

// SetVolume sets the volume step, 0 (silent) to 6.
func (a *Audio) SetVolume(ctx context.Context, v int) error {
	if v < 0 || v > MaxVolume {
		return fmt.Errorf("%w: %d", ErrVolumeRange, v)
	}
	if err := a.call(ctx, &volumeOp{volume: uint8(v)}); err != nil {
		return fmt.Errorf("audio: set volume: %w", err)
	}
	a.mu.Lock()
	a.volume = uint8(v)
	a.mu.Unlock()
	return nil
}

// Volume returns the current volume step.
func (a *Audio) Volume() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.volume)
}

// Pause holds playback at its current position.
func (a *Audio) Pause(ctx context.Context) error {
	if a.Status() != StatusResume {
		return ErrNotPlaying
	}
	if err := a.call(ctx, &pauseOp{}); err != nil {
		return fmt.Errorf("audio: pause: %w", err)
	}
	a.setStatus(StatusPause)
	return nil
}

// Resume continues paused playback.
func (a *Audio) Resume(ctx context.Context) error {
	if a.Status() != StatusPause {
		return ErrNotPaused
	}
	if err := a.call(ctx, &resumeOp{}); err != nil {
		return fmt.Errorf("audio: resume: %w", err)
	}
	a.setStatus(StatusResume)
	return nil
}

// Stop ends playback.
func (a *Audio) Stop(ctx context.Context) error {
	if err := a.call(ctx, &stopOp{}); err != nil {
		return fmt.Errorf("audio: stop: %w", err)
	}
	a.setStatus(StatusStop)
	a.log.Info("[AUDIO] stopped")
	return nil
}

// Status returns the playback state.
func (a *Audio) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Wait blocks until the current playback ends or fails, or ctx is done.
func (a *Audio) Wait(ctx context.Context) (Status, error) {
	for {
		switch s := a.Status(); s {
		case StatusEnd, StatusFailed, StatusStop:
			return s, nil
		}
		if err := a.ended.Wait(ctx); err != nil {
			return a.Status(), err
		}
	}
}

func (a *Audio) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

// finished runs on the loop when the player reports the end of the stream.
func (a *Audio) finished(err error) {
	a.mu.Lock()
	if err != nil {
		a.status = StatusFailed
	} else {
		a.status = StatusEnd
	}
	path := a.path
	a.mu.Unlock()
	if err != nil {
		a.log.Warn("[AUDIO] playback failed", "path", path, "error", err)
	} else {
		a.log.Info("[AUDIO] playback finished", "path", path)
	}
	a.ended.Post()
}

type audioOp interface {
	task.Op
	failure() error
}

func (a *Audio) call(ctx context.Context, op audioOp) error {
	ok, err := a.bridge.Call(ctx, op)
	if err != nil {
		return err
	}
	if !ok {
		if cause := op.failure(); cause != nil {
			return cause
		}
		return task.ErrFailed
	}
	return nil
}
