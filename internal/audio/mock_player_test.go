package audio

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/chaz8081/linkit-go/internal/storage"
	"github.com/chaz8081/linkit-go/internal/task"
)

// mockPlayer records what the facade asks of the device.
type mockPlayer struct {
	mu      sync.Mutex
	started []PCM
	onEnd   []func(error)
	paused  bool
	stopped int
	volume  uint8

	// When set, Start signals entered and then blocks until gate closes,
	// like a device that is slow to open.
	entered chan struct{}
	gate    chan struct{}
}

func (p *mockPlayer) Start(pcm PCM, onEnd func(error)) error {
	if p.gate != nil {
		close(p.entered)
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, pcm)
	p.onEnd = append(p.onEnd, onEnd)
	p.paused = false
	return nil
}

func (p *mockPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	return nil
}

func (p *mockPlayer) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	return nil
}

func (p *mockPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped++
	return nil
}

func (p *mockPlayer) SetVolume(v uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = v
}

// finish fires the end callback of the i-th playback.
func (p *mockPlayer) finish(i int, err error) {
	p.mu.Lock()
	cb := p.onEnd[i]
	p.mu.Unlock()
	cb(err)
}

func (p *mockPlayer) state() (starts int, paused bool, volume uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.started), p.paused, p.volume
}

func (p *mockPlayer) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

func TestMockPlayerImplementsInterface(t *testing.T) {
	var _ Player = (*mockPlayer)(nil)
}

// testRig is a loop, a drive over a temp directory and an Audio facade on
// a mock player.
type testRig struct {
	loop   *task.Loop
	dir    string
	drive  *storage.Drive
	player *mockPlayer
	audio  *Audio
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	loop := task.NewLoop(nil)
	loop.Start()
	t.Cleanup(loop.Stop)

	dir := t.TempDir()
	fs, err := storage.NewHostFS(dir)
	if err != nil {
		t.Fatalf("NewHostFS() error = %v", err)
	}
	drive := storage.NewDrive(loop, "flash", fs, storage.DriveOptions{})
	t.Cleanup(func() { drive.Close() })
	if err := drive.Begin(t.Context()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	player := &mockPlayer{}
	a := New(loop, player, Options{Volume: 4})
	t.Cleanup(func() { a.Close() })
	return &testRig{loop: loop, dir: dir, drive: drive, player: player, audio: a}
}

// writeWAV stores a mono 16-bit 8 kHz WAV of samples under name.
func writeWAV(t *testing.T, dir, name string, samples []int) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, 8000, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: 8000},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("finish %s: %v", name, err)
	}
}
