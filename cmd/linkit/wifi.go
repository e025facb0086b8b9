package main

import (
	"context"
	"fmt"
	"net"

	"github.com/urfave/cli"

	"github.com/chaz8081/linkit-go/internal/wifi"
)

// hostSSID names the network the host OS already joined.
const hostSSID = "host"

func (b *board) wifi(ctx context.Context, join bool) (*wifi.WiFi, error) {
	w, err := wifi.New(b.loop, wifi.NewHostStation(b.cfg.WiFi.Interface), wifi.Options{
		DNSCache: b.cfg.WiFi.DNSCache,
		Logger:   b.log,
	})
	if err != nil {
		return nil, err
	}
	b.onClose(w.Close)
	if err := w.Begin(ctx); err != nil {
		return nil, err
	}
	b.onClose(func() error { return w.End(context.Background()) })
	if join {
		if err := w.Connect(ctx, hostSSID, wifi.Login{}); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (b *board) wifiStatusCommand(c *cli.Context) error {
	w, err := b.wifi(b.context(), true)
	if err != nil {
		return err
	}
	fmt.Printf("status:  %s\n", w.Status())
	fmt.Printf("mac:     %s\n", w.MACAddress())
	fmt.Printf("ip:      %s\n", w.LocalIP())
	fmt.Printf("mask:    %s\n", net.IP(w.SubnetMask()))
	fmt.Printf("gateway: %s\n", w.GatewayIP())
	return nil
}

func (b *board) wifiScanCommand(c *cli.Context) error {
	ctx := b.context()
	w, err := b.wifi(ctx, false)
	if err != nil {
		return err
	}
	n, err := w.ScanNetworks(ctx)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		nw, err := w.NetworkAt(i)
		if err != nil {
			return err
		}
		fmt.Printf("%4d dBm  %-5s  %s\n", nw.RSSI, nw.Enc, Cyan(nw.SSID))
	}
	return nil
}

func (b *board) wifiResolveCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return needArgs(c, 1)
	}
	ctx := b.context()
	w, err := b.wifi(ctx, true)
	if err != nil {
		return err
	}
	for _, host := range c.Args() {
		ip, err := w.HostByName(ctx, host)
		if err != nil {
			fmt.Printf("%s  %s\n", host, Red(err.Error()))
			continue
		}
		fmt.Printf("%s  %s\n", host, ip)
	}
	return nil
}
