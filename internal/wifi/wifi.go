package wifi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/chaz8081/linkit-go/internal/task"
)

var (
	ErrNotBegun     = errors.New("wifi: station not started")
	ErrNotConnected = errors.New("wifi: not connected to an access point")
	ErrJoinFailed   = errors.New("wifi: join failed")
	ErrNoScan       = errors.New("wifi: no scan results")
	ErrIndexRange   = errors.New("wifi: network index out of range")
	ErrLookupFailed = errors.New("wifi: host lookup failed")
)

// Status is the station's connection state.
type Status int

const (
	StatusDisabled Status = iota
	StatusDisconnected
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisabled:
		return "disabled"
	case StatusDisconnected:
		return "disconnected"
	case StatusConnected:
		return "connected"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Login selects how Connect authenticates. The zero value joins an open
// network.
type Login struct {
	Enc      Encryption
	Password string // WEP key or WPA passphrase
	Username string
}

// Options configures a WiFi facade.
type Options struct {
	Timeout  time.Duration // bound on every call (default 30s)
	DNSCache int           // resolved host names kept (default 32)
	Logger   *slog.Logger
}

// WiFi is the station facade.
type WiFi struct {
	bridge *task.Bridge
	log    *slog.Logger
	dns    *lru.Cache
	mac    net.HardwareAddr

	mu       sync.Mutex
	status   Status
	ssid     string
	info     IPInfo
	networks []Network
	scanned  bool
}

// New creates a WiFi facade whose station work runs on loop.
func New(loop *task.Loop, station Station, opts Options) (*WiFi, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.DNSCache <= 0 {
		opts.DNSCache = 32
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New(opts.DNSCache)
	if err != nil {
		return nil, fmt.Errorf("wifi: dns cache: %w", err)
	}
	rt := &runtime{station: station, log: logger}
	return &WiFi{
		bridge: task.NewBridge(loop, "wifi", rt, task.BridgeOptions{Timeout: opts.Timeout, Logger: logger}),
		log:    logger,
		dns:    cache,
		mac:    station.MAC(),
	}, nil
}

// Close releases the facade's bridge.
func (w *WiFi) Close() error { return w.bridge.Close() }

// Begin turns the radio on.
func (w *WiFi) Begin(ctx context.Context) error {
	if err := w.call(ctx, &enableOp{}); err != nil {
		return fmt.Errorf("wifi: begin: %w", err)
	}
	w.mu.Lock()
	if w.status == StatusDisabled {
		w.status = StatusDisconnected
	}
	w.mu.Unlock()
	w.log.Info("[WIFI] station enabled")
	return nil
}

// End turns the radio off, dropping any association.
func (w *WiFi) End(ctx context.Context) error {
	err := w.call(ctx, &disableOp{})
	w.reset(StatusDisabled)
	w.mu.Lock()
	w.networks, w.scanned = nil, false
	w.mu.Unlock()
	if err != nil {
		return fmt.Errorf("wifi: end: %w", err)
	}
	w.log.Info("[WIFI] station disabled")
	return nil
}

// Connect joins ssid using login.
func (w *WiFi) Connect(ctx context.Context, ssid string, login Login) error {
	if ssid == "" || len(ssid) > 32 {
		return fmt.Errorf("%w: invalid ssid %q", ErrJoinFailed, ssid)
	}
	p := JoinParams{SSID: ssid, Enc: login.Enc, Username: login.Username}
	switch login.Enc {
	case EncOpen:
	case EncWEP:
		key, err := WEPKey(login.Password)
		if err != nil {
			return err
		}
		p.Key = key
	case EncWPA:
		key, err := DerivePSK(ssid, login.Password)
		if err != nil {
			return err
		}
		p.Key = key
	default:
		return fmt.Errorf("%w: unknown encryption %v", ErrJoinFailed, login.Enc)
	}

	op := &joinOp{params: p}
	if err := w.call(ctx, op); err != nil {
		w.reset(StatusDisconnected)
		if errors.Is(err, ErrNotBegun) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrJoinFailed, ssid, err)
	}
	w.mu.Lock()
	w.status, w.ssid, w.info = StatusConnected, ssid, op.info
	w.mu.Unlock()
	w.dns.Purge()
	w.log.Info("[WIFI] connected", "ssid", ssid, "ip", op.info.IP, "enc", login.Enc)
	return nil
}

// ConnectWEP joins a WEP network.
func (w *WiFi) ConnectWEP(ctx context.Context, ssid, key string) error {
	return w.Connect(ctx, ssid, Login{Enc: EncWEP, Password: key})
}

// ConnectWPA joins a WPA/WPA2 personal network.
func (w *WiFi) ConnectWPA(ctx context.Context, ssid, passphrase string) error {
	return w.Connect(ctx, ssid, Login{Enc: EncWPA, Password: passphrase})
}

// Disconnect leaves the current network.
func (w *WiFi) Disconnect(ctx context.Context) error {
	err := w.call(ctx, &leaveOp{})
	w.reset(StatusDisconnected)
	if err != nil {
		return fmt.Errorf("wifi: disconnect: %w", err)
	}
	w.log.Info("[WIFI] disconnected")
	return nil
}

// ScanNetworks surveys nearby access points and returns how many were
// found. Results replace those of any earlier scan.
func (w *WiFi) ScanNetworks(ctx context.Context) (int, error) {
	op := &scanOp{}
	if err := w.call(ctx, op); err != nil {
		return 0, fmt.Errorf("wifi: scan: %w", err)
	}
	w.mu.Lock()
	w.networks, w.scanned = op.networks, true
	w.mu.Unlock()
	w.log.Info("[WIFI] scan complete", "networks", len(op.networks))
	return len(op.networks), nil
}

// NetworkAt returns entry i of the latest scan.
func (w *WiFi) NetworkAt(i int) (Network, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.scanned {
		return Network{}, ErrNoScan
	}
	if i < 0 || i >= len(w.networks) {
		return Network{}, fmt.Errorf("%w: %d of %d", ErrIndexRange, i, len(w.networks))
	}
	return w.networks[i], nil
}

// SSIDAt returns the name of network i of the latest scan.
func (w *WiFi) SSIDAt(i int) (string, error) {
	n, err := w.NetworkAt(i)
	return n.SSID, err
}

// RSSIAt returns the signal strength of network i of the latest scan.
func (w *WiFi) RSSIAt(i int) (int, error) {
	n, err := w.NetworkAt(i)
	return n.RSSI, err
}

// Status returns the connection state.
func (w *WiFi) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// SSID returns the name of the joined network.
func (w *WiFi) SSID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ssid
}

// RSSI returns the signal strength measured when the network was joined.
func (w *WiFi) RSSI() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.info.RSSI
}

// BSSID returns the access point's hardware address.
func (w *WiFi) BSSID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.info.BSSID
}

// LocalIP returns the station's address, nil when not connected.
func (w *WiFi) LocalIP() net.IP {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.info.IP
}

// GatewayIP returns the default gateway, nil when not connected.
func (w *WiFi) GatewayIP() net.IP {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.info.Gateway
}

// SubnetMask returns the network mask, nil when not connected.
func (w *WiFi) SubnetMask() net.IPMask {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.info.Mask
}

// MACAddress returns the station's hardware address.
func (w *WiFi) MACAddress() net.HardwareAddr { return w.mac }

// HostByName resolves host over the joined network. Literal addresses are
// returned as is; answers are cached until the link changes.
func (w *WiFi) HostByName(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	key := strings.ToLower(strings.TrimSuffix(host, "."))
	if v, ok := w.dns.Get(key); ok {
		return v.(net.IP), nil
	}
	op := &resolveOp{host: key}
	if err := w.call(ctx, op); err != nil {
		if errors.Is(err, ErrNotConnected) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrLookupFailed, host, err)
	}
	w.dns.Add(key, op.ip)
	w.log.Debug("[WIFI] resolved", "host", key, "ip", op.ip)
	return op.ip, nil
}

type wifiOp interface {
	task.Op
	failure() error
}

func (w *WiFi) call(ctx context.Context, op wifiOp) error {
	ok, err := w.bridge.Call(ctx, op)
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

// reset forgets the association and cached lookups.
func (w *WiFi) reset(s Status) {
	w.mu.Lock()
	if s == StatusDisconnected && w.status == StatusDisabled {
		s = StatusDisabled
	}
	w.status, w.ssid, w.info = s, "", IPInfo{}
	w.mu.Unlock()
	w.dns.Purge()
}
