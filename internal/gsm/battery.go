package gsm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/chaz8081/linkit-go/internal/task"
)

// Battery reports the charge the modem measures on its supply.
type Battery struct {
	bridge *task.Bridge
}

// NewBattery creates a battery facade whose modem work runs on loop.
func NewBattery(loop *task.Loop, modem *Modem, opts Options) *Battery {
	opts = opts.withDefaults()
	return &Battery{
		bridge: task.NewBridge(loop, "battery", modem, task.BridgeOptions{Timeout: opts.Timeout, Logger: opts.Logger}),
	}
}

// Close releases the facade's bridge.
func (b *Battery) Close() error { return b.bridge.Close() }

// Level returns the charge level in steps of 0, 33, 66 or 100 percent.
func (b *Battery) Level(ctx context.Context) (int, error) {
	op := &batteryOp{}
	if err := call(ctx, b.bridge, op); err != nil {
		return 0, fmt.Errorf("gsm: battery level: %w", err)
	}
	return op.level, nil
}

// IsCharging reports whether the battery is being charged.
func (b *Battery) IsCharging(ctx context.Context) (bool, error) {
	op := &batteryOp{}
	if err := call(ctx, b.bridge, op); err != nil {
		return false, fmt.Errorf("gsm: battery charging: %w", err)
	}
	return op.charging, nil
}

// quantizeLevel rounds a percentage down to the nearest reported step.
func quantizeLevel(pct int) int {
	switch {
	case pct >= 100:
		return 100
	case pct >= 66:
		return 66
	case pct >= 33:
		return 33
	default:
		return 0
	}
}

// battery parses +CBC: <bcs>,<bcl>[,<mV>]. A charge status of 1 means
// charging; 0 and 2 (full) do not.
func (m *Modem) battery(ctx context.Context) (int, bool, error) {
	lines, err := m.Exec(ctx, "AT+CBC")
	if err != nil {
		return 0, false, err
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "+CBC:") {
			continue
		}
		f := splitFields(strings.TrimPrefix(l, "+CBC:"))
		if len(f) < 2 {
			break
		}
		bcs, err1 := strconv.Atoi(strings.TrimSpace(f[0]))
		bcl, err2 := strconv.Atoi(strings.TrimSpace(f[1]))
		if err1 != nil || err2 != nil {
			break
		}
		return quantizeLevel(bcl), bcs == 1, nil
	}
	return 0, false, fmt.Errorf("AT+CBC: malformed response %q: %w", lines, ErrCommand)
}
