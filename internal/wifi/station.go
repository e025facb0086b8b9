// Package wifi provides the board's Wi-Fi station facade: join an access
// point, scan for networks and resolve host names over the link.
package wifi

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Encryption is the security of a network.
type Encryption int

const (
	EncOpen Encryption = iota
	EncWEP
	EncWPA // WPA and WPA2 personal
)

func (e Encryption) String() string {
	switch e {
	case EncOpen:
		return "open"
	case EncWEP:
		return "wep"
	case EncWPA:
		return "wpa"
	default:
		return fmt.Sprintf("encryption(%d)", int(e))
	}
}

// ErrScanUnsupported is returned by stations that cannot survey the air.
var ErrScanUnsupported = errors.New("wifi: station cannot scan")

// Network is one access point seen by a scan.
type Network struct {
	SSID  string
	BSSID string
	RSSI  int
	Enc   Encryption
}

// JoinParams is what the radio needs to associate. Key holds the raw WEP key
// or the 32-byte WPA pre-shared key, never a passphrase.
type JoinParams struct {
	SSID     string
	Enc      Encryption
	Key      []byte
	Username string
}

// IPInfo describes the link after a successful join.
type IPInfo struct {
	IP      net.IP
	Gateway net.IP
	Mask    net.IPMask
	BSSID   string
	RSSI    int
}

// Station abstracts the Wi-Fi radio. Blocking methods honour ctx.
type Station interface {
	Enable(ctx context.Context) error
	Disable() error
	Join(ctx context.Context, p JoinParams) (IPInfo, error)
	Leave() error
	Scan(ctx context.Context) ([]Network, error)
	Resolve(ctx context.Context, host string) (net.IP, error)
	MAC() net.HardwareAddr
}
