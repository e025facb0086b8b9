package gsm

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/chaz8081/linkit-go/internal/task"
)

type result struct{ err error }

func (r *result) failure() error { return r.err }

type readyOp struct {
	result
	ready bool
}

type sendSMSOp struct {
	result
	to   string
	text string
}

type listSMSOp struct {
	result
	found  bool
	id     int
	number string
	text   string
}

type deleteSMSOp struct {
	result
	id int
}

type dialOp struct {
	result
	to string
}

type answerOp struct{ result }

type hangOp struct{ result }

type statusOp struct {
	result
	state  CallState
	number string
}

type attachOp struct {
	result
	apn      string // empty means use the context stored on the SIM
	username string
	password string
	ip       net.IP
}

type detachOp struct{ result }

type resolveOp struct {
	result
	host string
	ip   net.IP
}

type batteryOp struct {
	result
	level    int
	charging bool
}

func (*readyOp) Name() string     { return "ready" }
func (*sendSMSOp) Name() string   { return "send_sms" }
func (*listSMSOp) Name() string   { return "list_sms" }
func (*deleteSMSOp) Name() string { return "delete_sms" }
func (*dialOp) Name() string      { return "dial" }
func (*answerOp) Name() string    { return "answer" }
func (*hangOp) Name() string      { return "hang_up" }
func (*statusOp) Name() string    { return "call_status" }
func (*attachOp) Name() string    { return "attach_gprs" }
func (*detachOp) Name() string    { return "detach_gprs" }
func (*resolveOp) Name() string   { return "host_by_name" }
func (*batteryOp) Name() string   { return "battery" }

// Handle runs on the task loop. AT exchanges block, so each one runs on its
// own goroutine and reports back through Complete.
func (m *Modem) Handle(r *task.Request) {
	go m.serve(r)
}

func (m *Modem) serve(r *task.Request) {
	ctx := context.Background()
	switch op := r.Op().(type) {
	case *readyOp:
		ready, err := m.ready(ctx)
		r.Complete(err == nil, func() { op.ready, op.err = ready, err })

	case *sendSMSOp:
		_, err := m.Exec(ctx, "AT+CMGF=1")
		if err == nil {
			_, err = m.ExecPrompt(ctx, fmt.Sprintf("AT+CMGS=%q", op.to), op.text)
		}
		r.Complete(err == nil, func() { op.err = err })

	case *listSMSOp:
		id, number, text, found, err := m.firstUnread(ctx)
		r.Complete(err == nil, func() {
			op.id, op.number, op.text, op.found, op.err = id, number, text, found, err
		})

	case *deleteSMSOp:
		_, err := m.Exec(ctx, "AT+CMGD="+strconv.Itoa(op.id))
		r.Complete(err == nil, func() { op.err = err })

	case *dialOp:
		_, err := m.Exec(ctx, "ATD"+op.to+";")
		r.Complete(err == nil, func() { op.err = err })

	case *answerOp:
		_, err := m.Exec(ctx, "ATA")
		if err == nil {
			m.mu.Lock()
			m.ringing = false
			m.mu.Unlock()
		}
		r.Complete(err == nil, func() { op.err = err })

	case *hangOp:
		_, err := m.Exec(ctx, "ATH")
		if err == nil {
			m.mu.Lock()
			m.ringing = false
			m.mu.Unlock()
		}
		r.Complete(err == nil, func() { op.err = err })

	case *statusOp:
		state, number, err := m.callStatus(ctx)
		r.Complete(err == nil, func() { op.state, op.number, op.err = state, number, err })

	case *attachOp:
		apn, ip, err := m.attach(ctx, op.apn, op.username, op.password)
		r.Complete(err == nil, func() { op.apn, op.ip, op.err = apn, ip, err })

	case *detachOp:
		_, err := m.Exec(ctx, "AT+CGATT=0")
		r.Complete(err == nil, func() { op.err = err })

	case *resolveOp:
		ip, err := m.resolve(ctx, op.host)
		r.Complete(err == nil, func() { op.ip, op.err = ip, err })

	case *batteryOp:
		level, charging, err := m.battery(ctx)
		r.Complete(err == nil, func() { op.level, op.charging, op.err = level, charging, err })

	default:
		r.Complete(false, nil)
	}
}

// ready reports whether the SIM is unlocked and the modem is registered on
// a network (home or roaming).
func (m *Modem) ready(ctx context.Context) (bool, error) {
	lines, err := m.Exec(ctx, "AT+CPIN?")
	if err != nil {
		return false, err
	}
	if !hasLine(lines, "+CPIN: READY") {
		return false, nil
	}
	lines, err = m.Exec(ctx, "AT+CREG?")
	if err != nil {
		return false, err
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "+CREG:") {
			continue
		}
		f := splitFields(strings.TrimPrefix(l, "+CREG:"))
		if len(f) >= 2 && (f[1] == "1" || f[1] == "5") {
			return true, nil
		}
	}
	return false, nil
}

// firstUnread fetches the oldest unread text message. The modem marks it
// read as a side effect.
func (m *Modem) firstUnread(ctx context.Context) (id int, number, text string, found bool, err error) {
	if _, err = m.Exec(ctx, "AT+CMGF=1"); err != nil {
		return 0, "", "", false, err
	}
	lines, err := m.Exec(ctx, `AT+CMGL="REC UNREAD"`)
	if err != nil {
		return 0, "", "", false, err
	}
	for i, l := range lines {
		if !strings.HasPrefix(l, "+CMGL:") {
			continue
		}
		f := splitFields(strings.TrimPrefix(l, "+CMGL:"))
		if len(f) < 3 {
			continue
		}
		id, convErr := strconv.Atoi(strings.TrimSpace(f[0]))
		if convErr != nil {
			continue
		}
		// The body is every line up to the next header.
		var body []string
		for _, b := range lines[i+1:] {
			if strings.HasPrefix(b, "+CMGL:") {
				break
			}
			body = append(body, b)
		}
		return id, f[2], strings.Join(body, "\n"), true, nil
	}
	return 0, "", "", false, nil
}

// callStatus maps the first call listed by AT+CLCC to a CallState.
func (m *Modem) callStatus(ctx context.Context) (CallState, string, error) {
	lines, err := m.Exec(ctx, "AT+CLCC")
	if err != nil {
		return CallIdle, "", err
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "+CLCC:") {
			continue
		}
		f := splitFields(strings.TrimPrefix(l, "+CLCC:"))
		if len(f) < 3 {
			continue
		}
		var number string
		if len(f) >= 6 {
			number = f[5]
		}
		switch strings.TrimSpace(f[2]) {
		case "0", "1":
			return CallTalking, number, nil
		case "2", "3":
			return CallCalling, number, nil
		case "4", "5":
			return CallReceiving, number, nil
		}
	}
	return CallIdle, "", nil
}

func hasLine(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}

// call drives op through b, turning an unsuccessful completion into the
// error the modem reported.
func call(ctx context.Context, b *task.Bridge, op interface {
	task.Op
	failure() error
}) error {
	ok, err := b.Call(ctx, op)
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
