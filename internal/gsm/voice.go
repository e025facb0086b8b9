package gsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/linkit-go/internal/task"
)

var ErrNoAnswer = errors.New("gsm: call not answered")

// CallState is the voice call state reported by the modem.
type CallState int

const (
	CallIdle CallState = iota
	CallCalling
	CallReceiving
	CallTalking
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallCalling:
		return "calling"
	case CallReceiving:
		return "receiving"
	case CallTalking:
		return "talking"
	default:
		return fmt.Sprintf("call(%d)", int(s))
	}
}

// DefaultDialTimeout is how long VoiceCall waits for the remote to pick up.
const DefaultDialTimeout = 30 * time.Second

const statusPoll = 500 * time.Millisecond

// Voice places and answers voice calls.
type Voice struct {
	bridge *task.Bridge
	modem  *Modem
	log    *slog.Logger
	poll   time.Duration
}

// NewVoice creates a voice call facade whose modem work runs on loop.
func NewVoice(loop *task.Loop, modem *Modem, opts Options) *Voice {
	opts = opts.withDefaults()
	return &Voice{
		bridge: task.NewBridge(loop, "voice", modem, task.BridgeOptions{Timeout: opts.Timeout, Logger: opts.Logger}),
		modem:  modem,
		log:    opts.Logger,
		poll:   statusPoll,
	}
}

// Close releases the facade's bridge.
func (v *Voice) Close() error { return v.bridge.Close() }

// Ready reports whether the SIM is unlocked and registered on a network.
func (v *Voice) Ready(ctx context.Context) (bool, error) {
	op := &readyOp{}
	if err := call(ctx, v.bridge, op); err != nil {
		return false, fmt.Errorf("gsm: voice ready: %w", err)
	}
	return op.ready, nil
}

// VoiceCall dials to and waits up to timeout for the call to be picked up.
// An unanswered call is hung up and reported as ErrNoAnswer.
func (v *Voice) VoiceCall(ctx context.Context, to string, timeout time.Duration) error {
	if !validNumber(to) {
		return fmt.Errorf("%w: %q", ErrInvalidNumber, to)
	}
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	if err := call(ctx, v.bridge, &dialOp{to: to}); err != nil {
		return fmt.Errorf("gsm: dial %s: %w", to, err)
	}
	v.log.Info("[GSM] dialing", "to", to)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(v.poll)
	defer tick.Stop()
	for {
		state, err := v.Status(ctx)
		if err != nil {
			return err
		}
		switch state {
		case CallTalking:
			v.log.Info("[GSM] call connected", "to", to)
			return nil
		case CallIdle:
			return fmt.Errorf("gsm: dial %s: %w", to, ErrNoAnswer)
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			v.log.Info("[GSM] no answer, hanging up", "to", to, "timeout", timeout)
			if err := v.HangUp(context.WithoutCancel(ctx)); err != nil {
				v.log.Warn("[GSM] hang up after dial timeout failed", "error", err)
			}
			return fmt.Errorf("gsm: dial %s: %w", to, ErrNoAnswer)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Status queries the state of the current call.
func (v *Voice) Status(ctx context.Context) (CallState, error) {
	op := &statusOp{}
	if err := call(ctx, v.bridge, op); err != nil {
		return CallIdle, fmt.Errorf("gsm: call status: %w", err)
	}
	return op.state, nil
}

// Answer picks up an incoming call.
func (v *Voice) Answer(ctx context.Context) error {
	if err := call(ctx, v.bridge, &answerOp{}); err != nil {
		return fmt.Errorf("gsm: answer: %w", err)
	}
	v.log.Info("[GSM] call answered")
	return nil
}

// CallingNumber returns the remote number of the current call, falling back
// to the caller ID announced with the last ring.
func (v *Voice) CallingNumber(ctx context.Context) (string, error) {
	op := &statusOp{}
	if err := call(ctx, v.bridge, op); err != nil {
		return "", fmt.Errorf("gsm: calling number: %w", err)
	}
	if op.number != "" {
		return op.number, nil
	}
	if id := v.modem.CallerID(); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("gsm: calling number: %w", task.ErrFailed)
}

// HangUp ends the current call or rejects a ringing one.
func (v *Voice) HangUp(ctx context.Context) error {
	if err := call(ctx, v.bridge, &hangOp{}); err != nil {
		return fmt.Errorf("gsm: hang up: %w", err)
	}
	v.log.Info("[GSM] call ended")
	return nil
}
