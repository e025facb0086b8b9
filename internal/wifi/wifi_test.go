package wifi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/chaz8081/linkit-go/internal/task"
)

func TestConnectWPA(t *testing.T) {
	st := newMockStation()
	w := begunWiFi(t, st)

	if w.Status() != StatusDisconnected {
		t.Fatalf("Status() after Begin = %v, want disconnected", w.Status())
	}
	if err := w.ConnectWPA(t.Context(), "IEEE", "password"); err != nil {
		t.Fatalf("ConnectWPA() error = %v", err)
	}

	joins := st.joined()
	if len(joins) != 1 {
		t.Fatalf("joins = %d, want 1", len(joins))
	}
	want, _ := DerivePSK("IEEE", "password")
	if joins[0].Enc != EncWPA || string(joins[0].Key) != string(want) {
		t.Errorf("join params = %+v, want the derived PSK", joins[0])
	}

	if w.Status() != StatusConnected || w.SSID() != "IEEE" {
		t.Errorf("Status() = %v, SSID() = %q", w.Status(), w.SSID())
	}
	if !w.LocalIP().Equal(net.IPv4(192, 168, 1, 23)) {
		t.Errorf("LocalIP() = %v", w.LocalIP())
	}
	if !w.GatewayIP().Equal(net.IPv4(192, 168, 1, 1)) {
		t.Errorf("GatewayIP() = %v", w.GatewayIP())
	}
	if w.SubnetMask().String() != net.CIDRMask(24, 32).String() {
		t.Errorf("SubnetMask() = %v", w.SubnetMask())
	}
	if w.RSSI() != -42 || w.BSSID() != "00:11:22:33:44:55" {
		t.Errorf("RSSI() = %d, BSSID() = %q", w.RSSI(), w.BSSID())
	}
	if w.MACAddress().String() != "02:00:00:00:00:01" {
		t.Errorf("MACAddress() = %v", w.MACAddress())
	}
}

func TestConnectValidatesCredentials(t *testing.T) {
	st := newMockStation()
	w := begunWiFi(t, st)

	tests := []struct {
		name    string
		connect func() error
		want    error
	}{
		{"short passphrase", func() error { return w.ConnectWPA(t.Context(), "home", "1234") }, ErrInvalidPassphrase},
		{"bad WEP key", func() error { return w.ConnectWEP(t.Context(), "home", "123") }, ErrInvalidWEPKey},
		{"empty ssid", func() error { return w.Connect(t.Context(), "", Login{}) }, ErrJoinFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.connect(); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
	if n := len(st.joined()); n != 0 {
		t.Errorf("station saw %d joins for rejected credentials", n)
	}
}

func TestConnectBeforeBegin(t *testing.T) {
	w := newTestWiFi(t, newMockStation(), Options{})
	if err := w.Connect(t.Context(), "cafe", Login{}); !errors.Is(err, ErrNotBegun) {
		t.Errorf("Connect() error = %v, want ErrNotBegun", err)
	}
	if w.Status() != StatusDisabled {
		t.Errorf("Status() = %v, want disabled", w.Status())
	}
}

func TestJoinFailure(t *testing.T) {
	st := newMockStation()
	st.joinErr = errors.New("auth rejected")
	w := begunWiFi(t, st)

	if err := w.ConnectWEP(t.Context(), "home", "abcde"); !errors.Is(err, ErrJoinFailed) {
		t.Errorf("ConnectWEP() error = %v, want ErrJoinFailed", err)
	}
	if w.Status() != StatusDisconnected || w.LocalIP() != nil {
		t.Errorf("Status() = %v, LocalIP() = %v after failed join", w.Status(), w.LocalIP())
	}
}

func TestJoinTimeoutLeavesLateAssociation(t *testing.T) {
	st := newMockStation()
	st.hangJoin = make(chan struct{})
	w := begunWiFi(t, st)

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()
	err := w.Connect(ctx, "cafe", Login{})
	if !errors.Is(err, task.ErrTimeout) {
		t.Fatalf("Connect() error = %v, want task.ErrTimeout", err)
	}

	close(st.hangJoin)
	eventually(t, "late association torn down", func() bool { return st.leaveCount() == 1 })
	if w.Status() != StatusDisconnected {
		t.Errorf("Status() = %v, want disconnected", w.Status())
	}
}

func TestScanNetworks(t *testing.T) {
	w := begunWiFi(t, newMockStation())

	if _, err := w.SSIDAt(0); !errors.Is(err, ErrNoScan) {
		t.Errorf("SSIDAt() before scan = %v, want ErrNoScan", err)
	}
	n, err := w.ScanNetworks(t.Context())
	if err != nil || n != 2 {
		t.Fatalf("ScanNetworks() = %d, %v", n, err)
	}
	if ssid, _ := w.SSIDAt(1); ssid != "cafe" {
		t.Errorf("SSIDAt(1) = %q, want cafe", ssid)
	}
	if rssi, _ := w.RSSIAt(0); rssi != -42 {
		t.Errorf("RSSIAt(0) = %d, want -42", rssi)
	}
	if _, err := w.RSSIAt(2); !errors.Is(err, ErrIndexRange) {
		t.Errorf("RSSIAt(2) = %v, want ErrIndexRange", err)
	}
}

func TestHostByNameCachesUntilDisconnect(t *testing.T) {
	st := newMockStation()
	w := begunWiFi(t, st)

	if _, err := w.HostByName(t.Context(), "example.com"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HostByName() offline = %v, want ErrNotConnected", err)
	}
	if err := w.Connect(t.Context(), "cafe", Login{}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	for _, host := range []string{"example.com", "EXAMPLE.com."} {
		ip, err := w.HostByName(t.Context(), host)
		if err != nil {
			t.Fatalf("HostByName(%q) error = %v", host, err)
		}
		if !ip.Equal(net.IPv4(93, 184, 216, 34)) {
			t.Errorf("HostByName(%q) = %v", host, ip)
		}
	}
	if n := st.lookupCount("example.com"); n != 1 {
		t.Errorf("station lookups = %d, want 1", n)
	}

	if ip, err := w.HostByName(t.Context(), "10.0.0.7"); err != nil || !ip.Equal(net.IPv4(10, 0, 0, 7)) {
		t.Errorf("HostByName(literal) = %v, %v", ip, err)
	}
	if n := st.lookupCount("10.0.0.7"); n != 0 {
		t.Errorf("literal address went to the station")
	}
	if _, err := w.HostByName(t.Context(), "nowhere.invalid"); !errors.Is(err, ErrLookupFailed) {
		t.Errorf("HostByName(unknown) = %v, want ErrLookupFailed", err)
	}

	if err := w.Disconnect(t.Context()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	w.Connect(t.Context(), "cafe", Login{})
	w.HostByName(t.Context(), "example.com")
	if n := st.lookupCount("example.com"); n != 2 {
		t.Errorf("station lookups after reconnect = %d, want 2", n)
	}
}

func TestDisconnectAndEnd(t *testing.T) {
	st := newMockStation()
	w := begunWiFi(t, st)

	if err := w.Disconnect(t.Context()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Disconnect() while idle = %v, want ErrNotConnected", err)
	}
	w.Connect(t.Context(), "cafe", Login{})
	if err := w.End(t.Context()); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if w.Status() != StatusDisabled || w.LocalIP() != nil {
		t.Errorf("Status() = %v, LocalIP() = %v after End", w.Status(), w.LocalIP())
	}
	if _, err := w.ScanNetworks(t.Context()); !errors.Is(err, ErrNotBegun) {
		t.Errorf("ScanNetworks() after End = %v, want ErrNotBegun", err)
	}
}
