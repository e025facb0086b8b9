package gsm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/linkit-go/internal/stream"
	"github.com/chaz8081/linkit-go/internal/task"
)

var (
	ErrNotComposing   = errors.New("gsm: no message being composed")
	ErrMessageTooLong = errors.New("gsm: message content too long")
	ErrNoMessage      = errors.New("gsm: no unread message loaded")
	ErrInvalidNumber  = errors.New("gsm: invalid phone number")
)

// MaxSMSLen caps the content of an outgoing message.
const MaxSMSLen = 500

// DefaultTimeout bounds one facade call. Sending a message can take the
// network several seconds to acknowledge.
const DefaultTimeout = 30 * time.Second

// Options configures the modem facades.
type Options struct {
	Timeout  time.Duration
	DNSCache int // GPRS only
	Logger   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.DNSCache <= 0 {
		o.DNSCache = DefaultDNSCache
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// SMS sends and receives text messages. Outgoing content is composed
// between BeginSMS and EndSMS; incoming messages are read one at a time as a
// byte stream.
type SMS struct {
	bridge  *task.Bridge
	modem   *Modem
	timeout time.Duration
	log     *slog.Logger

	mu        sync.Mutex
	composing bool
	to        string
	out       []byte

	loaded bool
	id     int
	number string
	body   []byte
	pos    int
}

var _ stream.ByteSource = (*SMS)(nil)

// NewSMS creates an SMS facade whose modem work runs on loop.
func NewSMS(loop *task.Loop, modem *Modem, opts Options) *SMS {
	opts = opts.withDefaults()
	return &SMS{
		bridge:  task.NewBridge(loop, "sms", modem, task.BridgeOptions{Timeout: opts.Timeout, Logger: opts.Logger}),
		modem:   modem,
		timeout: opts.Timeout,
		log:     opts.Logger,
	}
}

// Close releases the facade's bridge.
func (s *SMS) Close() error { return s.bridge.Close() }

// Ready reports whether the SIM is unlocked and registered on a network.
func (s *SMS) Ready(ctx context.Context) (bool, error) {
	op := &readyOp{}
	if err := call(ctx, s.bridge, op); err != nil {
		return false, fmt.Errorf("gsm: sms ready: %w", err)
	}
	return op.ready, nil
}

// BeginSMS starts composing a message to the given number, discarding any
// unsent content.
func (s *SMS) BeginSMS(to string) error {
	if !validNumber(to) {
		return fmt.Errorf("%w: %q", ErrInvalidNumber, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.composing, s.to, s.out = true, to, s.out[:0]
	return nil
}

// WriteByte appends one byte to the message being composed.
func (s *SMS) WriteByte(b byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.composing {
		return ErrNotComposing
	}
	if len(s.out) >= MaxSMSLen {
		return ErrMessageTooLong
	}
	s.out = append(s.out, b)
	return nil
}

// Write appends as much of p as fits in the message.
func (s *SMS) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.composing {
		return 0, ErrNotComposing
	}
	n := min(len(p), MaxSMSLen-len(s.out))
	s.out = append(s.out, p[:n]...)
	if n < len(p) {
		return n, ErrMessageTooLong
	}
	return n, nil
}

// EndSMS sends the composed message. The draft is consumed whether or not
// sending succeeds.
func (s *SMS) EndSMS(ctx context.Context) error {
	s.mu.Lock()
	if !s.composing {
		s.mu.Unlock()
		return ErrNotComposing
	}
	op := &sendSMSOp{to: s.to, text: string(s.out)}
	s.composing, s.out = false, s.out[:0]
	s.mu.Unlock()

	if err := call(ctx, s.bridge, op); err != nil {
		return fmt.Errorf("gsm: send sms to %s: %w", op.to, err)
	}
	s.log.Info("[GSM] sms sent", "to", op.to, "bytes", len(op.text))
	return nil
}

// Available returns the unread bytes of the current incoming message. When
// none is loaded it fetches the oldest unread message from the modem first.
func (s *SMS) Available() int {
	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	if !loaded {
		if err := s.load(context.Background()); err != nil {
			s.log.Warn("[GSM] could not fetch unread messages", "error", err)
			return 0
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return 0
	}
	return len(s.body) - s.pos
}

// Loaded reports whether an incoming message is current.
func (s *SMS) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// RemoteNumber returns the sender of the current incoming message.
func (s *SMS) RemoteNumber() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return "", ErrNoMessage
	}
	return s.number, nil
}

// ReadByte returns the next content byte of the current message, or io.EOF
// at its end.
func (s *SMS) ReadByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded || s.pos >= len(s.body) {
		return 0, io.EOF
	}
	b := s.body[s.pos]
	s.pos++
	return b, nil
}

// Peek is ReadByte without advancing.
func (s *SMS) Peek() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded || s.pos >= len(s.body) {
		return 0, io.EOF
	}
	return s.body[s.pos], nil
}

// Flush deletes the current incoming message from the modem. The next
// Available call loads the following one.
func (s *SMS) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return ErrNoMessage
	}
	id := s.id
	s.mu.Unlock()

	if err := call(ctx, s.bridge, &deleteSMSOp{id: id}); err != nil {
		return fmt.Errorf("gsm: delete sms %d: %w", id, err)
	}
	s.mu.Lock()
	s.loaded, s.body, s.pos, s.number = false, nil, 0, ""
	s.mu.Unlock()
	s.log.Debug("[GSM] sms deleted", "id", id)
	return nil
}

// WaitMessage blocks until the modem announces a new message or ctx is
// done.
func (s *SMS) WaitMessage(ctx context.Context) error {
	return s.modem.NewMessages().Wait(ctx)
}

func (s *SMS) load(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	op := &listSMSOp{}
	if err := call(ctx, s.bridge, op); err != nil {
		return fmt.Errorf("gsm: list sms: %w", err)
	}
	if !op.found {
		return nil
	}
	s.mu.Lock()
	s.loaded, s.id, s.number, s.body, s.pos = true, op.id, op.number, []byte(op.text), 0
	s.mu.Unlock()
	s.log.Info("[GSM] sms loaded", "id", op.id, "from", op.number)
	return nil
}

// validNumber accepts dialable numbers: digits with an optional leading +,
// and the * and # of service codes.
func validNumber(n string) bool {
	if n == "" || len(n) > 20 {
		return false
	}
	for i, r := range n {
		switch {
		case r >= '0' && r <= '9', r == '*', r == '#':
		case r == '+' && i == 0:
		default:
			return false
		}
	}
	return true
}
