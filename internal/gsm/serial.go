package gsm

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// SerialConfig selects the modem's AT command port.
type SerialConfig struct {
	// Device path (e.g., "/dev/ttyUSB2", "COM5")
	Port string

	// Baud rate (115200 for most modules)
	Baud int

	// Read timeout; 0 blocks, which is what the modem reader wants.
	ReadTimeout time.Duration
}

// OpenSerial opens the modem port and starts a Modem on it.
func OpenSerial(cfg SerialConfig, opts ModemOptions) (*Modem, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("gsm: no serial port configured")
	}
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("gsm: open serial port %s: %w", cfg.Port, err)
	}
	return NewModem(port, opts), nil
}
