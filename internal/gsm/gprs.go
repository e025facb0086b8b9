package gsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/chaz8081/linkit-go/internal/task"
)

var (
	ErrNoAPN        = errors.New("gsm: no access point name on the SIM")
	ErrNotAttached  = errors.New("gsm: not attached to a GPRS network")
	ErrLookupFailed = errors.New("gsm: host lookup failed")
)

// gprsContext is the PDP context the facade configures and activates.
const gprsContext = 1

// DefaultDNSCache is how many resolved host names a GPRS facade keeps.
const DefaultDNSCache = 32

// GPRS attaches the modem to the packet data network and resolves host
// names over it.
type GPRS struct {
	bridge *task.Bridge
	log    *slog.Logger
	dns    *lru.Cache

	mu       sync.Mutex
	attached bool
	apn      string
	ip       net.IP
}

// NewGPRS creates a GPRS facade whose modem work runs on loop.
func NewGPRS(loop *task.Loop, modem *Modem, opts Options) (*GPRS, error) {
	opts = opts.withDefaults()
	cache, err := lru.New(opts.DNSCache)
	if err != nil {
		return nil, fmt.Errorf("gsm: dns cache: %w", err)
	}
	return &GPRS{
		bridge: task.NewBridge(loop, "gprs", modem, task.BridgeOptions{Timeout: opts.Timeout, Logger: opts.Logger}),
		log:    opts.Logger,
		dns:    cache,
	}, nil
}

// Close releases the facade's bridge.
func (g *GPRS) Close() error { return g.bridge.Close() }

// AttachGPRS activates a data context on apn. Empty credentials skip
// authentication.
func (g *GPRS) AttachGPRS(ctx context.Context, apn, username, password string) error {
	if apn == "" {
		return fmt.Errorf("gsm: attach gprs: %w", ErrNoAPN)
	}
	return g.attach(ctx, &attachOp{apn: apn, username: username, password: password})
}

// AttachSIM activates a data context on the access point name already
// provisioned on the SIM.
func (g *GPRS) AttachSIM(ctx context.Context) error {
	return g.attach(ctx, &attachOp{})
}

func (g *GPRS) attach(ctx context.Context, op *attachOp) error {
	if err := call(ctx, g.bridge, op); err != nil {
		return fmt.Errorf("gsm: attach gprs: %w", err)
	}
	g.mu.Lock()
	g.attached, g.apn, g.ip = true, op.apn, op.ip
	g.mu.Unlock()
	g.dns.Purge()
	g.log.Info("[GSM] gprs attached", "apn", op.apn, "ip", op.ip)
	return nil
}

// Detach leaves the packet data network.
func (g *GPRS) Detach(ctx context.Context) error {
	err := call(ctx, g.bridge, &detachOp{})
	g.mu.Lock()
	g.attached, g.ip = false, nil
	g.mu.Unlock()
	g.dns.Purge()
	if err != nil {
		return fmt.Errorf("gsm: detach gprs: %w", err)
	}
	g.log.Info("[GSM] gprs detached")
	return nil
}

// Attached reports whether the last attach succeeded and was not undone.
func (g *GPRS) Attached() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attached
}

// APN returns the access point name of the active context.
func (g *GPRS) APN() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.apn
}

// LocalIP returns the address the network assigned, or nil when detached.
func (g *GPRS) LocalIP() net.IP {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ip
}

// HostByName resolves host through the modem's DNS client. Literal
// addresses are returned as is; answers are cached until the next attach
// or detach.
func (g *GPRS) HostByName(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	if !g.Attached() {
		return nil, ErrNotAttached
	}
	key := strings.ToLower(strings.TrimSuffix(host, "."))
	if v, ok := g.dns.Get(key); ok {
		return v.(net.IP), nil
	}
	op := &resolveOp{host: key}
	if err := call(ctx, g.bridge, op); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLookupFailed, host, err)
	}
	g.dns.Add(key, op.ip)
	g.log.Debug("[GSM] resolved", "host", key, "ip", op.ip)
	return op.ip, nil
}

// attach defines, authenticates and activates the data context, then reads
// back the assigned address. An empty apn reuses the stored context.
func (m *Modem) attach(ctx context.Context, apn, username, password string) (string, net.IP, error) {
	if apn == "" {
		stored, err := m.storedAPN(ctx)
		if err != nil {
			return "", nil, err
		}
		apn = stored
	} else {
		cmd := fmt.Sprintf("AT+CGDCONT=%d,\"IP\",%q", gprsContext, apn)
		if _, err := m.Exec(ctx, cmd); err != nil {
			return "", nil, err
		}
	}
	if username != "" || password != "" {
		cmd := fmt.Sprintf("AT+CGAUTH=%d,1,%q,%q", gprsContext, username, password)
		if _, err := m.Exec(ctx, cmd); err != nil {
			return "", nil, err
		}
	}
	if _, err := m.Exec(ctx, "AT+CGATT=1"); err != nil {
		return "", nil, err
	}
	if _, err := m.Exec(ctx, fmt.Sprintf("AT+CGACT=1,%d", gprsContext)); err != nil {
		return "", nil, err
	}
	lines, err := m.Exec(ctx, fmt.Sprintf("AT+CGPADDR=%d", gprsContext))
	if err != nil {
		return "", nil, err
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "+CGPADDR:") {
			continue
		}
		f := splitFields(strings.TrimPrefix(l, "+CGPADDR:"))
		if len(f) >= 2 {
			if ip := net.ParseIP(strings.TrimSpace(f[1])); ip != nil {
				return apn, ip, nil
			}
		}
	}
	return "", nil, fmt.Errorf("AT+CGPADDR: no address assigned: %w", ErrCommand)
}

// storedAPN reads the access point name of the facade's context from the
// definitions the SIM provisioned.
func (m *Modem) storedAPN(ctx context.Context) (string, error) {
	lines, err := m.Exec(ctx, "AT+CGDCONT?")
	if err != nil {
		return "", err
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "+CGDCONT:") {
			continue
		}
		f := splitFields(strings.TrimPrefix(l, "+CGDCONT:"))
		if len(f) >= 3 && strings.TrimSpace(f[0]) == fmt.Sprint(gprsContext) && f[2] != "" {
			return f[2], nil
		}
	}
	return "", ErrNoAPN
}

// resolve asks the modem's DNS client for host. The answer arrives as
// +CDNSGIP: 1,"host","addr"[,"addr2"]; a leading 0 carries an error code.
func (m *Modem) resolve(ctx context.Context, host string) (net.IP, error) {
	line, err := m.ExecAwait(ctx, fmt.Sprintf("AT+CDNSGIP=%q", host), "+CDNSGIP:")
	if err != nil {
		return nil, err
	}
	f := splitFields(strings.TrimPrefix(line, "+CDNSGIP:"))
	if strings.TrimSpace(f[0]) != "1" {
		return nil, fmt.Errorf("%w: %s", ErrCommand, strings.TrimSpace(line))
	}
	for _, addr := range f[min(2, len(f)):] {
		if ip := net.ParseIP(strings.TrimSpace(addr)); ip != nil {
			return ip, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCommand, strings.TrimSpace(line))
}
