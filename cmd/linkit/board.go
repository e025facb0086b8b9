package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/chaz8081/linkit-go/internal/config"
	"github.com/chaz8081/linkit-go/internal/gsm"
	"github.com/chaz8081/linkit-go/internal/storage"
	"github.com/chaz8081/linkit-go/internal/task"
)

// board holds what every command shares: the config, the logger and the
// runtime loop all peripheral calls are serviced on.
type board struct {
	cfg  *config.Config
	log  *slog.Logger
	loop *task.Loop

	closers []func() error
}

func (b *board) setup(c *cli.Context) error {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if lvl := c.GlobalString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	b.cfg = cfg
	b.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)}))
	slog.SetDefault(b.log)

	b.loop = task.NewLoop(b.log)
	b.loop.Start()

	if !c.GlobalBool("quiet") && c.NArg() > 0 {
		printBanner(cfg)
	}
	return nil
}

func (b *board) teardown(*cli.Context) error {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			b.log.Warn("[MAIN] shutdown", "error", err)
		}
	}
	if b.loop != nil {
		b.loop.Stop()
	}
	return nil
}

func (b *board) onClose(fn func() error) { b.closers = append(b.closers, fn) }

// context returns a context cancelled by Ctrl+C.
func (b *board) context() context.Context {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	b.onClose(func() error { stop(); return nil })
	return ctx
}

func (b *board) drive(ctx context.Context) (*storage.Drive, error) {
	if err := os.MkdirAll(b.cfg.Storage.Root, 0o755); err != nil {
		return nil, fmt.Errorf("creating drive root: %w", err)
	}
	fs, err := storage.NewHostFS(b.cfg.Storage.Root)
	if err != nil {
		return nil, err
	}
	d := storage.NewDrive(b.loop, "flash", fs, storage.DriveOptions{
		Timeout:     b.cfg.Bridge.Timeout,
		WriteBuffer: b.cfg.Storage.WriteBuffer,
		Logger:      b.log,
	})
	b.onClose(d.Close)
	if err := d.Begin(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (b *board) modem(ctx context.Context) (*gsm.Modem, error) {
	m, err := gsm.OpenSerial(gsm.SerialConfig{
		Port:        b.cfg.GSM.Port,
		Baud:        b.cfg.GSM.Baud,
		ReadTimeout: b.cfg.GSM.ReadTimeout,
	}, gsm.ModemOptions{CommandTimeout: b.cfg.GSM.CommandTimeout, Logger: b.log})
	if err != nil {
		return nil, err
	}
	b.onClose(m.Close)
	if err := m.Init(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	port := cfg.GSM.Port
	if port == "" {
		port = "(none)"
	}
	fmt.Fprintln(os.Stderr, Cyan("=== linkit ==="))
	fmt.Fprintf(os.Stderr, "  Drive:   %s\n", cfg.Storage.Root)
	fmt.Fprintf(os.Stderr, "  BT:      %s (mtu %d, rx %d)\n", cfg.Bluetooth.Name, cfg.Bluetooth.MTU, cfg.Bluetooth.RxBuffer)
	fmt.Fprintf(os.Stderr, "  Modem:   %s @ %d\n", port, cfg.GSM.Baud)
	fmt.Fprintf(os.Stderr, "  Timeout: %s\n", cfg.Bridge.Timeout)
	fmt.Fprintf(os.Stderr, "  Log:     %s\n", cfg.LogLevel)
	fmt.Fprintln(os.Stderr, Cyan("==============="))
}

func initCommand(c *cli.Context) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Println(Yellow("config already exists at " + config.DefaultConfigPath()))
		return nil
	}
	fmt.Println(Green("wrote " + path))
	return nil
}

// needArgs fails unless the command got exactly n arguments.
func needArgs(c *cli.Context, n int) error {
	if c.NArg() != n {
		return cli.NewExitError(fmt.Sprintf("usage: %s %s %s", c.App.Name, c.Command.FullName(), c.Command.ArgsUsage), 2)
	}
	return nil
}
