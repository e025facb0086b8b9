package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	Storage   StorageConfig   `yaml:"storage"`
	GSM       GSMConfig       `yaml:"gsm"`
	WiFi      WiFiConfig      `yaml:"wifi"`
	Audio     AudioConfig     `yaml:"audio"`
	LogLevel  string          `yaml:"log_level"`
}

// BridgeConfig holds settings shared by every peripheral bridge.
type BridgeConfig struct {
	Timeout time.Duration `yaml:"timeout"` // bound on one peripheral call
}

// BluetoothConfig holds Bluetooth serial client settings.
type BluetoothConfig struct {
	Name        string        `yaml:"name"`
	ScanTimeout time.Duration `yaml:"scan_timeout"`
	RxBuffer    int           `yaml:"rx_buffer"` // receive ring capacity in bytes
	MTU         int           `yaml:"mtu"`
	PIN         string        `yaml:"pin,omitempty"`
}

// StorageConfig holds the drive settings.
type StorageConfig struct {
	Root        string `yaml:"root"` // host directory exposed as the drive
	WriteBuffer int    `yaml:"write_buffer"`
}

// GSMConfig holds the modem port and data network settings.
type GSMConfig struct {
	Port           string        `yaml:"port"`
	Baud           int           `yaml:"baud"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// Empty APN attaches with the context stored on the SIM.
	APN         string `yaml:"apn,omitempty"`
	APNUser     string `yaml:"apn_user,omitempty"`
	APNPassword string `yaml:"apn_password,omitempty"`
}

// WiFiConfig holds station settings.
type WiFiConfig struct {
	Interface string `yaml:"interface,omitempty"`
	DNSCache  int    `yaml:"dns_cache"` // resolved host names kept
}

// AudioConfig holds playback settings.
type AudioConfig struct {
	Volume int `yaml:"volume"` // 0 (silent) to 6
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "linkit")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Bridge: BridgeConfig{
			Timeout: 5 * time.Second,
		},
		Bluetooth: BluetoothConfig{
			Name:        "linkit",
			ScanTimeout: 20 * time.Second,
			RxBuffer:    64,
			MTU:         20,
		},
		Storage: StorageConfig{
			Root:        filepath.Join(home, ".local", "share", "linkit", "flash"),
			WriteBuffer: 128,
		},
		GSM: GSMConfig{
			Baud:           115200,
			CommandTimeout: 10 * time.Second,
		},
		WiFi: WiFiConfig{
			DNSCache: 32,
		},
		Audio: AudioConfig{
			Volume: 6,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in storage.root is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Storage.Root = expandTilde(cfg.Storage.Root)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Bridge.Timeout <= 0 {
		return fmt.Errorf("bridge.timeout must be > 0")
	}

	if c.Bluetooth.ScanTimeout <= 0 {
		return fmt.Errorf("bluetooth.scan_timeout must be > 0")
	}
	if c.Bluetooth.RxBuffer < 1 {
		return fmt.Errorf("bluetooth.rx_buffer must be >= 1, got %d", c.Bluetooth.RxBuffer)
	}
	if c.Bluetooth.MTU < 1 || c.Bluetooth.MTU > 512 {
		return fmt.Errorf("bluetooth.mtu must be between 1 and 512, got %d", c.Bluetooth.MTU)
	}

	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root must not be empty")
	}
	if c.Storage.WriteBuffer < 1 {
		return fmt.Errorf("storage.write_buffer must be >= 1, got %d", c.Storage.WriteBuffer)
	}

	if c.GSM.Baud <= 0 {
		return fmt.Errorf("gsm.baud must be > 0")
	}
	if c.GSM.ReadTimeout < 0 {
		return fmt.Errorf("gsm.read_timeout must not be negative")
	}

	if c.WiFi.DNSCache < 1 {
		return fmt.Errorf("wifi.dns_cache must be >= 1, got %d", c.WiFi.DNSCache)
	}

	if c.Audio.Volume < 0 || c.Audio.Volume > 6 {
		return fmt.Errorf("audio.volume must be between 0 and 6, got %d", c.Audio.Volume)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

const defaultHeader = `# linkit configuration
# Durations use Go syntax ("5s", "250ms"). Delete a key to fall back to its default.
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the path written, or "" if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// ParseLogLevel maps a log_level value to a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
