package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/chaz8081/linkit-go/internal/audio"
)

func (b *board) playCommand(c *cli.Context) error {
	if err := needArgs(c, 1); err != nil {
		return err
	}
	ctx := b.context()
	drive, err := b.drive(ctx)
	if err != nil {
		return err
	}

	player, err := audio.NewMalgoPlayer()
	if err != nil {
		return err
	}
	b.onClose(player.Close)

	volume := b.cfg.Audio.Volume
	if v := c.Int("volume"); v >= 0 {
		volume = v
	}
	a := audio.New(b.loop, player, audio.Options{Timeout: b.cfg.Bridge.Timeout, Logger: b.log})
	b.onClose(a.Close)
	if err := a.SetVolume(ctx, volume); err != nil {
		return err
	}

	path := c.Args().First()
	if err := a.Play(ctx, drive, path); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "playing %s (Ctrl+C to stop)\n", path)

	status, err := a.Wait(ctx)
	if errors.Is(err, context.Canceled) {
		return a.Stop(context.Background())
	}
	if err != nil {
		return err
	}
	if status == audio.StatusFailed {
		return fmt.Errorf("playback of %s failed", path)
	}
	return nil
}
