package gsm

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func TestExecCollectsInfoLines(t *testing.T) {
	m, f := newFakeModem(t, ModemOptions{})
	f.on("AT+CSQ", "+CSQ: 20,0\nOK")

	lines, err := m.Exec(t.Context(), "AT+CSQ")
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if len(lines) != 1 || lines[0] != "+CSQ: 20,0" {
		t.Errorf("Exec() = %q, want [\"+CSQ: 20,0\"]", lines)
	}
}

func TestExecFinalErrors(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"plain", "ERROR"},
		{"equipment", "+CME ERROR: 10"},
		{"message service", "+CMS ERROR: 500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, f := newFakeModem(t, ModemOptions{})
			f.on("AT+COPS?", tt.reply)
			if _, err := m.Exec(t.Context(), "AT+COPS?"); !errors.Is(err, ErrCommand) {
				t.Errorf("Exec() error = %v, want ErrCommand", err)
			}
		})
	}
}

func TestExecSilentModemTimesOut(t *testing.T) {
	m, f := newFakeModem(t, ModemOptions{CommandTimeout: 50 * time.Millisecond})
	f.on("AT", "")

	if _, err := m.Exec(t.Context(), "AT"); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("Exec() error = %v, want ErrNoResponse", err)
	}
	// The port is still usable afterwards.
	f.on("AT", "OK")
	if _, err := m.Exec(t.Context(), "AT"); err != nil {
		t.Errorf("Exec() after timeout error = %v", err)
	}
}

func TestExecAfterClose(t *testing.T) {
	m, _ := newFakeModem(t, ModemOptions{})
	m.Close()
	<-m.done
	if _, err := m.Exec(t.Context(), "AT"); !errors.Is(err, ErrModemClosed) {
		t.Errorf("Exec() error = %v, want ErrModemClosed", err)
	}
}

func TestInitConfiguresModem(t *testing.T) {
	m, f := newFakeModem(t, ModemOptions{})
	if err := m.Init(t.Context()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	want := []string{"ATE0", "AT+CMGF=1", "AT+CLIP=1", "AT+CNMI=2,1,0,0,0"}
	if got := f.received(); !slices.Equal(got, want) {
		t.Errorf("commands = %q, want %q", got, want)
	}
}

func TestUnsolicitedCodes(t *testing.T) {
	m, f := newFakeModem(t, ModemOptions{})

	f.emit("RING")
	f.emit(`+CLIP: "+15551234",145,"",0,"",0`)
	eventually(t, "caller id", func() bool { return m.CallerID() == "+15551234" })
	if !m.Ringing() {
		t.Error("Ringing() = false after RING")
	}

	f.emit("NO CARRIER")
	eventually(t, "ring cleared", func() bool { return !m.Ringing() })

	f.emit(`+CMTI: "SM",4`)
	if err := m.NewMessages().Wait(t.Context()); err != nil {
		t.Errorf("NewMessages().Wait() error = %v", err)
	}
}

func TestSplitFields(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{` 0,1`, []string{"0", "1"}},
		{` "+1555",145`, []string{"+1555", "145"}},
		{` 3,"REC UNREAD","+1555",,"26/10/17,09:30:00+08"`, []string{"3", "REC UNREAD", "+1555", "", "26/10/17,09:30:00+08"}},
		{``, []string{""}},
	}
	for _, tt := range tests {
		if got := splitFields(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("splitFields(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
