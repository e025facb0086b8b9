package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/chaz8081/linkit-go/internal/gsm"
	"github.com/chaz8081/linkit-go/internal/stream"
)

func (b *board) gsmOptions() gsm.Options {
	return gsm.Options{Logger: b.log}
}

func (b *board) sms(ctx context.Context) (*gsm.SMS, error) {
	m, err := b.modem(ctx)
	if err != nil {
		return nil, err
	}
	s := gsm.NewSMS(b.loop, m, b.gsmOptions())
	b.onClose(s.Close)
	ready, err := s.Ready(ctx)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, errors.New("modem is not registered on a network")
	}
	return s, nil
}

func (b *board) voice(ctx context.Context) (*gsm.Voice, error) {
	m, err := b.modem(ctx)
	if err != nil {
		return nil, err
	}
	v := gsm.NewVoice(b.loop, m, b.gsmOptions())
	b.onClose(v.Close)
	return v, nil
}

func (b *board) gprs(ctx context.Context) (*gsm.GPRS, error) {
	m, err := b.modem(ctx)
	if err != nil {
		return nil, err
	}
	g, err := gsm.NewGPRS(b.loop, m, b.gsmOptions())
	if err != nil {
		return nil, err
	}
	b.onClose(g.Close)
	if apn := b.cfg.GSM.APN; apn != "" {
		err = g.AttachGPRS(ctx, apn, b.cfg.GSM.APNUser, b.cfg.GSM.APNPassword)
	} else {
		err = g.AttachSIM(ctx)
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (b *board) gprsAttachCommand(c *cli.Context) error {
	g, err := b.gprs(b.context())
	if err != nil {
		return err
	}
	fmt.Printf("apn: %s\n", g.APN())
	fmt.Printf("ip:  %s\n", g.LocalIP())
	return nil
}

func (b *board) gprsResolveCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return needArgs(c, 1)
	}
	ctx := b.context()
	g, err := b.gprs(ctx)
	if err != nil {
		return err
	}
	for _, host := range c.Args() {
		ip, err := g.HostByName(ctx, host)
		if err != nil {
			fmt.Printf("%s  %s\n", host, Red(err.Error()))
			continue
		}
		fmt.Printf("%s  %s\n", host, ip)
	}
	return nil
}

func (b *board) batteryCommand(c *cli.Context) error {
	ctx := b.context()
	m, err := b.modem(ctx)
	if err != nil {
		return err
	}
	bat := gsm.NewBattery(b.loop, m, b.gsmOptions())
	b.onClose(bat.Close)
	level, err := bat.Level(ctx)
	if err != nil {
		return err
	}
	charging, err := bat.IsCharging(ctx)
	if err != nil {
		return err
	}
	state := "discharging"
	if charging {
		state = Green("charging")
	}
	fmt.Printf("%d%% %s\n", level, state)
	return nil
}

func (b *board) smsSendCommand(c *cli.Context) error {
	if err := needArgs(c, 2); err != nil {
		return err
	}
	ctx := b.context()
	s, err := b.sms(ctx)
	if err != nil {
		return err
	}
	if err := s.BeginSMS(c.Args().Get(0)); err != nil {
		return err
	}
	if _, err := s.Write([]byte(c.Args().Get(1))); err != nil {
		return err
	}
	if err := s.EndSMS(ctx); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, Green("sent"))
	return nil
}

func (b *board) smsReadCommand(c *cli.Context) error {
	ctx := b.context()
	s, err := b.sms(ctx)
	if err != nil {
		return err
	}
	for {
		for s.Available() > 0 || s.Loaded() {
			from, _ := s.RemoteNumber()
			body, err := stream.ReadAvailable(s)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", Cyan(from+":"), body)
			if c.Bool("keep") {
				// Without a delete the same message would load again.
				return nil
			}
			if err := s.Flush(ctx); err != nil {
				return err
			}
		}
		if !c.Bool("follow") {
			return nil
		}
		if err := s.WaitMessage(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func (b *board) callDialCommand(c *cli.Context) error {
	if err := needArgs(c, 1); err != nil {
		return err
	}
	ctx := b.context()
	v, err := b.voice(ctx)
	if err != nil {
		return err
	}
	if err := v.VoiceCall(ctx, c.Args().First(), c.Duration("timeout")); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, Green("connected"))
	return nil
}

func (b *board) callAnswerCommand(c *cli.Context) error {
	ctx := b.context()
	v, err := b.voice(ctx)
	if err != nil {
		return err
	}
	if num, err := v.CallingNumber(ctx); err == nil {
		fmt.Fprintf(os.Stderr, "answering %s\n", num)
	}
	return v.Answer(ctx)
}

func (b *board) callStatusCommand(c *cli.Context) error {
	ctx := b.context()
	v, err := b.voice(ctx)
	if err != nil {
		return err
	}
	state, err := v.Status(ctx)
	if err != nil {
		return err
	}
	if state == gsm.CallIdle {
		fmt.Println(state)
		return nil
	}
	num, _ := v.CallingNumber(ctx)
	fmt.Printf("%s %s\n", state, num)
	return nil
}

func (b *board) callHangupCommand(c *cli.Context) error {
	ctx := b.context()
	v, err := b.voice(ctx)
	if err != nil {
		return err
	}
	return v.HangUp(ctx)
}
