package wifi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// HostStation is a Station backed by the host's own network stack. The OS
// owns association, so Join only checks that an interface is up and reports
// its addressing.
type HostStation struct {
	// Interface pins the station to one interface name; empty picks the
	// first non-loopback interface with an IPv4 address.
	Interface string

	resolver *net.Resolver

	mu      sync.Mutex
	enabled bool
	iface   *net.Interface
}

var _ Station = (*HostStation)(nil)

// NewHostStation returns a station on the named interface ("" for any).
func NewHostStation(iface string) *HostStation {
	return &HostStation{Interface: iface, resolver: net.DefaultResolver}
}

func (h *HostStation) Enable(ctx context.Context) error {
	iface, err := h.pick()
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.enabled, h.iface = true, iface
	h.mu.Unlock()
	return nil
}

func (h *HostStation) Disable() error {
	h.mu.Lock()
	h.enabled = false
	h.mu.Unlock()
	return nil
}

func (h *HostStation) Join(ctx context.Context, p JoinParams) (IPInfo, error) {
	h.mu.Lock()
	iface := h.iface
	h.mu.Unlock()
	if iface == nil {
		return IPInfo{}, ErrNotBegun
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return IPInfo{}, fmt.Errorf("wifi: addresses of %s: %w", iface.Name, err)
	}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok || ipn.IP.To4() == nil {
			continue
		}
		return IPInfo{IP: ipn.IP, Mask: ipn.Mask, Gateway: firstHost(ipn)}, nil
	}
	return IPInfo{}, fmt.Errorf("wifi: %s has no IPv4 address", iface.Name)
}

func (h *HostStation) Leave() error { return nil }

func (h *HostStation) Scan(context.Context) ([]Network, error) {
	return nil, ErrScanUnsupported
}

func (h *HostStation) Resolve(ctx context.Context, host string) (net.IP, error) {
	ips, err := h.resolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, errors.New("no addresses")
	}
	return ips[0], nil
}

func (h *HostStation) MAC() net.HardwareAddr {
	iface, err := h.pick()
	if err != nil {
		return nil
	}
	return iface.HardwareAddr
}

func (h *HostStation) pick() (*net.Interface, error) {
	if h.Interface != "" {
		iface, err := net.InterfaceByName(h.Interface)
		if err != nil {
			return nil, fmt.Errorf("wifi: interface %s: %w", h.Interface, err)
		}
		return iface, nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("wifi: list interfaces: %w", err)
	}
	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok && ipn.IP.To4() != nil {
				return iface, nil
			}
		}
	}
	return nil, errors.New("wifi: no usable network interface")
}

// firstHost guesses the gateway as the first address of the subnet, which
// is what most home routers use.
func firstHost(n *net.IPNet) net.IP {
	ip := n.IP.To4().Mask(n.Mask)
	if ip == nil {
		return nil
	}
	gw := make(net.IP, len(ip))
	copy(gw, ip)
	gw[len(gw)-1]++
	return gw
}
