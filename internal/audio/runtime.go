package audio

import (
	"github.com/chaz8081/linkit-go/internal/task"
)

type result struct{ err error }

func (r *result) failure() error { return r.err }

type playOp struct {
	result
	pcm PCM
}

type volumeOp struct {
	result
	volume uint8
}

type pauseOp struct{ result }

type resumeOp struct{ result }

type stopOp struct{ result }

func (*playOp) Name() string   { return "play" }
func (*volumeOp) Name() string { return "set_volume" }
func (*pauseOp) Name() string  { return "pause" }
func (*resumeOp) Name() string { return "resume" }
func (*stopOp) Name() string   { return "stop" }

// runtime owns the player. gen counts playbacks so that the end event of a
// stream that was since replaced or stopped is ignored. Player calls touch
// the sound device and may block, so they run in order on the device queue
// and report back through Request.Complete.
type runtime struct {
	audio  *Audio
	player Player
	loop   *task.Loop
	device *task.Loop

	gen     uint64
	playing bool
}

func (rt *runtime) Handle(r *task.Request) {
	switch op := r.Op().(type) {
	case *playOp:
		rt.gen++
		gen := rt.gen
		rt.onDevice(r, func() {
			err := rt.player.Start(op.pcm, func(err error) {
				rt.loop.Post(func() { rt.end(gen, err) })
			})
			r.CompleteOr(err == nil, func() {
				op.err = err
				rt.playing = err == nil
			}, func() {
				if err == nil && gen == rt.gen {
					// Nobody is waiting for this stream any more.
					rt.gen++
					rt.device.Post(func() { rt.player.Stop() })
				}
			})
		})

	case *volumeOp:
		rt.player.SetVolume(op.volume)
		r.Complete(true, nil)

	case *pauseOp:
		if !rt.playing {
			r.Complete(false, func() { op.err = ErrNotPlaying })
			return
		}
		rt.onDevice(r, func() {
			err := rt.player.Pause()
			r.Complete(err == nil, func() { op.err = err })
		})

	case *resumeOp:
		if !rt.playing {
			r.Complete(false, func() { op.err = ErrNotPlaying })
			return
		}
		rt.onDevice(r, func() {
			err := rt.player.Resume()
			r.Complete(err == nil, func() { op.err = err })
		})

	case *stopOp:
		rt.gen++
		rt.playing = false
		rt.onDevice(r, func() {
			err := rt.player.Stop()
			r.Complete(err == nil, func() { op.err = err })
		})

	default:
		r.Complete(false, nil)
	}
}

// onDevice queues fn behind earlier player calls. Once the facade is closed
// the queue refuses work and the request fails.
func (rt *runtime) onDevice(r *task.Request, fn func()) {
	if !rt.device.Post(fn) {
		r.Complete(false, nil)
	}
}

func (rt *runtime) end(gen uint64, err error) {
	if gen != rt.gen {
		return
	}
	rt.playing = false
	rt.audio.finished(err)
}
