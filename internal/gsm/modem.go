// Package gsm drives a cellular modem over its AT command port and exposes
// the board's SMS, voice call, GPRS and battery facades on top of it.
package gsm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/linkit-go/internal/task"
)

var (
	ErrCommand     = errors.New("gsm: modem rejected command")
	ErrNoResponse  = errors.New("gsm: no response from modem")
	ErrModemClosed = errors.New("gsm: modem port closed")
)

// DefaultCommandTimeout bounds one AT command exchange.
const DefaultCommandTimeout = 10 * time.Second

// ModemOptions configures a Modem.
type ModemOptions struct {
	CommandTimeout time.Duration
	Logger         *slog.Logger
}

// Modem is the runtime side of the GSM facades. A reader goroutine splits
// the port's output into lines and unsolicited result codes; commands are
// serialized so the SMS and voice facades can share one port.
type Modem struct {
	port    io.ReadWriteCloser
	timeout time.Duration
	log     *slog.Logger

	cmdMu  sync.Mutex // one command exchange at a time
	lines  chan string
	prompt chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	readErr   error
	callerID  string
	ringing   bool
	smsSignal *task.Signal
}

// NewModem starts reading port. Close stops the reader and closes port.
func NewModem(port io.ReadWriteCloser, opts ModemOptions) *Modem {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Modem{
		port:      port,
		timeout:   opts.CommandTimeout,
		log:       logger,
		lines:     make(chan string, 64),
		prompt:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		smsSignal: task.NewSignal(),
	}
	go m.readLoop()
	return m
}

// Close shuts the port down.
func (m *Modem) Close() error {
	return m.port.Close()
}

// Init puts the modem into the mode the facades expect: no echo, text-mode
// SMS, caller ID and new-message indications.
func (m *Modem) Init(ctx context.Context) error {
	for _, cmd := range []string{"ATE0", "AT+CMGF=1", "AT+CLIP=1", "AT+CNMI=2,1,0,0,0"} {
		if _, err := m.Exec(ctx, cmd); err != nil {
			return fmt.Errorf("gsm: init: %w", err)
		}
	}
	m.log.Info("[GSM] modem initialized")
	return nil
}

// CallerID returns the number announced by the last incoming call.
func (m *Modem) CallerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callerID
}

// Ringing reports whether an incoming call was announced and not ended.
func (m *Modem) Ringing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ringing
}

// NewMessages is posted whenever the modem announces a stored SMS.
func (m *Modem) NewMessages() *task.Signal { return m.smsSignal }

func (m *Modem) readLoop() {
	defer close(m.done)
	r := bufio.NewReader(m.port)
	var line []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			m.mu.Lock()
			m.readErr = err
			m.mu.Unlock()
			if !errors.Is(err, io.EOF) {
				m.log.Warn("[GSM] port read failed", "error", err)
			}
			return
		}
		if b == '\n' {
			s := strings.TrimRight(string(line), "\r")
			line = line[:0]
			if s != "" {
				m.dispatch(s)
			}
			continue
		}
		line = append(line, b)
		if string(line) == "> " {
			line = line[:0]
			select {
			case m.prompt <- struct{}{}:
			default:
			}
		}
	}
}

func (m *Modem) dispatch(line string) {
	if m.unsolicited(line) {
		return
	}
	select {
	case m.lines <- line:
	default:
		m.log.Warn("[GSM] dropping response line, no reader", "line", line)
	}
}

// unsolicited handles result codes the modem emits on its own.
func (m *Modem) unsolicited(line string) bool {
	switch {
	case line == "RING":
		m.mu.Lock()
		m.ringing = true
		m.mu.Unlock()
		m.log.Info("[GSM] incoming call")
	case strings.HasPrefix(line, "+CLIP:"):
		fields := splitFields(strings.TrimPrefix(line, "+CLIP:"))
		if len(fields) > 0 {
			m.mu.Lock()
			m.callerID = fields[0]
			m.mu.Unlock()
		}
	case strings.HasPrefix(line, "+CMTI:"):
		m.log.Info("[GSM] new message stored", "indication", line)
		m.smsSignal.Post()
	case line == "NO CARRIER", line == "BUSY", line == "NO ANSWER":
		m.mu.Lock()
		m.ringing = false
		m.mu.Unlock()
		m.log.Info("[GSM] call ended", "reason", line)
	default:
		return false
	}
	return true
}

// Exec sends cmd and collects the information lines of the response.
func (m *Modem) Exec(ctx context.Context, cmd string) ([]string, error) {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.drain()
	if err := m.send(cmd + "\r"); err != nil {
		return nil, err
	}
	return m.collect(ctx, cmd)
}

// ExecPrompt sends cmd, waits for the "> " prompt, then sends body
// terminated by Ctrl-Z, as AT+CMGS requires.
func (m *Modem) ExecPrompt(ctx context.Context, cmd, body string) ([]string, error) {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.drain()
	select {
	case <-m.prompt:
	default:
	}
	if err := m.send(cmd + "\r"); err != nil {
		return nil, err
	}

	select {
	case <-m.prompt:
	case line := <-m.lines:
		if err := finalError(line); err != nil {
			return nil, fmt.Errorf("%s: %w", cmd, err)
		}
		return nil, fmt.Errorf("%s: unexpected %q before prompt: %w", cmd, line, ErrCommand)
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: waiting for prompt: %w", cmd, ErrNoResponse)
	case <-m.done:
		return nil, ErrModemClosed
	}

	if err := m.send(body + "\x1a"); err != nil {
		return nil, err
	}
	return m.collect(ctx, cmd)
}

// ExecAwait sends cmd and, once the modem accepts it, waits for the first
// line starting with prefix. Commands such as AT+CDNSGIP answer OK at once
// and report their result later as an unsolicited line.
func (m *Modem) ExecAwait(ctx context.Context, cmd, prefix string) (string, error) {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.drain()
	if err := m.send(cmd + "\r"); err != nil {
		return "", err
	}
	info, err := m.collect(ctx, cmd)
	if err != nil {
		return "", err
	}
	for _, l := range info {
		if strings.HasPrefix(l, prefix) {
			return l, nil
		}
	}
	for {
		select {
		case line := <-m.lines:
			m.log.Debug("[GSM] <<", "line", line)
			if strings.HasPrefix(line, prefix) {
				return line, nil
			}
		case <-ctx.Done():
			return "", fmt.Errorf("%s: waiting for %s: %w", cmd, prefix, ErrNoResponse)
		case <-m.done:
			return "", ErrModemClosed
		}
	}
}

func (m *Modem) send(s string) error {
	select {
	case <-m.done:
		return ErrModemClosed
	default:
	}
	m.log.Debug("[GSM] >>", "data", strings.TrimSpace(s))
	if _, err := io.WriteString(m.port, s); err != nil {
		return fmt.Errorf("gsm: write: %w", err)
	}
	return nil
}

func (m *Modem) collect(ctx context.Context, cmd string) ([]string, error) {
	var info []string
	for {
		select {
		case line := <-m.lines:
			m.log.Debug("[GSM] <<", "line", line)
			if line == cmd {
				continue // echo
			}
			if line == "OK" {
				return info, nil
			}
			if err := finalError(line); err != nil {
				return info, fmt.Errorf("%s: %w", cmd, err)
			}
			info = append(info, line)
		case <-ctx.Done():
			return info, fmt.Errorf("%s: %w", cmd, ErrNoResponse)
		case <-m.done:
			return info, ErrModemClosed
		}
	}
}

// drain discards response lines left over from an abandoned exchange.
func (m *Modem) drain() {
	for {
		select {
		case <-m.lines:
		default:
			return
		}
	}
}

func finalError(line string) error {
	switch {
	case line == "ERROR":
		return ErrCommand
	case strings.HasPrefix(line, "+CME ERROR:"), strings.HasPrefix(line, "+CMS ERROR:"):
		return fmt.Errorf("%w: %s", ErrCommand, strings.TrimSpace(line[strings.Index(line, ":")+1:]))
	}
	return nil
}

// splitFields splits an AT response parameter list on commas outside
// quotes and strips the quotes.
func splitFields(s string) []string {
	var (
		fields []string
		cur    strings.Builder
		quoted bool
	)
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(fields, cur.String())
}
