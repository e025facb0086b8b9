package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// Player abstracts the playback device. onEnd is called once, from the
// audio thread, when the samples run out or playback fails.
type Player interface {
	Start(pcm PCM, onEnd func(error)) error
	Pause() error
	Resume() error
	Stop() error
	SetVolume(v uint8)
}

// MaxVolume is the loudest volume step.
const MaxVolume = 6

// MalgoPlayer plays PCM on the default output device.
type MalgoPlayer struct {
	ctx *malgo.AllocatedContext

	mu     sync.Mutex
	device *malgo.Device
	pcm    PCM
	pos    int // next sample index
	paused bool
	volume uint8
	onEnd  func(error)
}

var _ Player = (*MalgoPlayer)(nil)

// NewMalgoPlayer creates a player. Call Close() when done.
func NewMalgoPlayer() (*MalgoPlayer, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}
	return &MalgoPlayer{ctx: ctx, volume: MaxVolume}, nil
}

// Start replaces whatever is playing with pcm.
func (p *MalgoPlayer) Start(pcm PCM, onEnd func(error)) error {
	if pcm.Channels < 1 || pcm.SampleRate < 1 {
		return errors.New("audio: empty stream format")
	}
	p.Stop()

	p.mu.Lock()
	p.pcm, p.pos, p.paused, p.onEnd = pcm, 0, false, onEnd
	p.mu.Unlock()

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceCfg.Playback.Format = malgo.FormatS16
	deviceCfg.Playback.Channels = uint32(pcm.Channels)
	deviceCfg.SampleRate = uint32(pcm.SampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: p.onData,
	}

	device, err := malgo.InitDevice(p.ctx.Context, deviceCfg, callbacks)
	if err != nil {
		return fmt.Errorf("initializing playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("starting playback device: %w", err)
	}

	p.mu.Lock()
	p.device = device
	p.mu.Unlock()
	return nil
}

// Pause keeps the device running but feeds it silence.
func (p *MalgoPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return errors.New("audio: nothing playing")
	}
	p.paused = true
	return nil
}

// Resume continues from where Pause left off.
func (p *MalgoPlayer) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return errors.New("audio: nothing playing")
	}
	p.paused = false
	return nil
}

// Stop tears the device down. onEnd is not called.
func (p *MalgoPlayer) Stop() error {
	p.mu.Lock()
	device := p.device
	p.device, p.onEnd = nil, nil
	p.mu.Unlock()
	if device != nil {
		device.Uninit()
	}
	return nil
}

// SetVolume sets the gain in steps from 0 (silent) to MaxVolume.
func (p *MalgoPlayer) SetVolume(v uint8) {
	p.mu.Lock()
	p.volume = min(v, MaxVolume)
	p.mu.Unlock()
}

// Close releases all audio resources.
func (p *MalgoPlayer) Close() error {
	p.Stop()
	if p.ctx != nil {
		if err := p.ctx.Uninit(); err != nil {
			return fmt.Errorf("uninitializing audio context: %w", err)
		}
		p.ctx.Free()
	}
	return nil
}

// onData is the malgo callback that fills the output buffer with S16 frames.
func (p *MalgoPlayer) onData(pOutput, _ []byte, frameCount uint32) {
	p.mu.Lock()
	n := int(frameCount) * p.pcm.Channels
	var done func(error)
	if !p.paused {
		n = p.fill(pOutput, n)
		if p.pos >= len(p.pcm.Samples) && p.onEnd != nil {
			done, p.onEnd = p.onEnd, nil
		}
	} else {
		n = 0
	}
	p.mu.Unlock()

	clear(pOutput[min(2*n, len(pOutput)):])
	if done != nil {
		// The device cannot be torn down from its own callback.
		go done(nil)
	}
}

// fill writes up to n scaled samples into out and returns how many it wrote.
func (p *MalgoPlayer) fill(out []byte, n int) int {
	n = min(n, len(p.pcm.Samples)-p.pos, len(out)/2)
	vol := int32(p.volume)
	for i := 0; i < n; i++ {
		s := int32(p.pcm.Samples[p.pos+i]) * vol / MaxVolume
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(s)))
	}
	p.pos += n
	return n
}
