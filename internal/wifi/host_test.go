package wifi

import (
	"errors"
	"net"
	"testing"
)

func TestFirstHost(t *testing.T) {
	tests := []struct {
		cidr string
		want string
	}{
		{"192.168.1.57/24", "192.168.1.1"},
		{"10.0.3.200/16", "10.0.0.1"},
		{"172.16.5.9/30", "172.16.5.9"},
	}
	for _, tt := range tests {
		t.Run(tt.cidr, func(t *testing.T) {
			ip, n, err := net.ParseCIDR(tt.cidr)
			if err != nil {
				t.Fatal(err)
			}
			n.IP = ip
			if got := firstHost(n); got.String() != tt.want {
				t.Errorf("firstHost(%s) = %s, want %s", tt.cidr, got, tt.want)
			}
		})
	}
}

func TestFirstHostIPv6(t *testing.T) {
	_, n, err := net.ParseCIDR("fd00::1/64")
	if err != nil {
		t.Fatal(err)
	}
	if got := firstHost(n); got != nil {
		t.Errorf("firstHost(v6) = %s, want nil", got)
	}
}

func TestHostStationScanUnsupported(t *testing.T) {
	h := NewHostStation("")
	if _, err := h.Scan(t.Context()); !errors.Is(err, ErrScanUnsupported) {
		t.Errorf("Scan() error = %v, want ErrScanUnsupported", err)
	}
}

func TestHostStationUnknownInterface(t *testing.T) {
	h := NewHostStation("linkit-no-such-if0")
	if err := h.Enable(t.Context()); err == nil {
		t.Error("Enable() with unknown interface should fail")
	}
}
