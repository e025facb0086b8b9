package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/chaz8081/linkit-go/internal/bt"
	"github.com/chaz8081/linkit-go/internal/stream"
)

func (b *board) btClient(ctx context.Context) (*bt.Client, error) {
	client := bt.NewClient(b.loop, bt.NewTinyGoAdapter(), bt.ClientOptions{
		Timeout:  b.cfg.Bridge.Timeout,
		RxBuffer: b.cfg.Bluetooth.RxBuffer,
		MTU:      b.cfg.Bluetooth.MTU,
		Logger:   b.log,
	})
	b.onClose(client.Close)
	if err := client.Begin(ctx, b.cfg.Bluetooth.Name); err != nil {
		return nil, err
	}
	b.onClose(func() error { return client.End(context.Background()) })
	return client, nil
}

func (b *board) btScanCommand(c *cli.Context) error {
	ctx := b.context()
	client, err := b.btClient(ctx)
	if err != nil {
		return err
	}
	window := c.Duration("window")
	if window <= 0 {
		window = b.cfg.Bluetooth.ScanTimeout
	}
	fmt.Fprintf(os.Stderr, "scanning for %s...\n", window)
	n, err := client.Scan(ctx, window)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Println(Yellow("no serial peers found"))
		return nil
	}
	for i := 0; i < n; i++ {
		info, err := client.DeviceInfo(ctx, i)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %4d dBm  %s\n", Cyan(info.Address), info.RSSI, info.Name)
	}
	return nil
}

func (b *board) btSendCommand(c *cli.Context) error {
	if err := needArgs(c, 2); err != nil {
		return err
	}
	address, message := c.Args().Get(0), c.Args().Get(1)
	pin := c.String("pin")
	if pin == "" {
		pin = b.cfg.Bluetooth.PIN
	}

	ctx := b.context()
	client, err := b.btClient(ctx)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx, address, pin); err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	if _, err := client.Write([]byte(message + "\n")); err != nil {
		return err
	}

	wait, cancel := context.WithTimeout(ctx, c.Duration("wait"))
	defer cancel()
	for {
		if err := client.WaitReadable(wait); err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, bt.ErrNotConnected) {
				return nil
			}
			return err
		}
		data, err := stream.ReadAvailable(client)
		if err != nil {
			return err
		}
		os.Stdout.Write(data)
	}
}
