// Package gpio drives the blink and button programs on top of periph.io.
package gpio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Output is the subset of gpio.PinOut used by Blink.
type Output interface {
	Out(l gpio.Level) error
}

// Input is the subset of gpio.PinIn used by Poll.
type Input interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
}

// Open initialises the host drivers and looks the pin up by name, e.g.
// "GPIO18" or "P1_12".
func Open(name string) (gpio.PinIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	return p, nil
}

// ParsePull maps up/down/float to a periph pull setting.
func ParsePull(s string) (gpio.Pull, error) {
	switch s {
	case "up":
		return gpio.PullUp, nil
	case "down":
		return gpio.PullDown, nil
	case "float":
		return gpio.Float, nil
	default:
		return gpio.PullNoChange, fmt.Errorf("invalid pull %q", s)
	}
}

// Blink drives pin high for period, then low for period, until ctx ends.
// The pin is left low on return.
func Blink(ctx context.Context, pin Output, period time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	defer func() {
		if err := pin.Out(gpio.Low); err != nil {
			logger.Warn("gpio: reset pin low", "error", err)
		}
	}()

	level := gpio.High
	for {
		if err := pin.Out(level); err != nil {
			return fmt.Errorf("set pin %v: %w", level, err)
		}
		logger.Debug("gpio: pin set", "value", bool(level))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(period):
		}
		level = !level
	}
}

// Poll configures pin as an input with the given pull and calls fn with the
// pin level every interval until ctx ends.
func Poll(ctx context.Context, pin Input, pull gpio.Pull, interval time.Duration, fn func(bool)) error {
	if err := pin.In(pull, gpio.NoEdge); err != nil {
		return fmt.Errorf("configure input: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		fn(pin.Read() == gpio.High)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
