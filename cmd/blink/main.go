package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cloudpico-publisher/internal/config"
	"cloudpico-publisher/internal/gpio"
	"cloudpico-publisher/internal/logging"
)

var version = "dev"
var appName = "cloudpico-blink"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(logging.New(cfg, version, appName))
	slog.Info("starting", "app", appName, "version", version, "pin", cfg.GPIOPin, "period", cfg.BlinkPeriod.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pin, err := gpio.Open(cfg.GPIOPin)
	if err != nil {
		slog.Error("open pin", "err", err)
		os.Exit(1)
	}

	if err := gpio.Blink(ctx, pin, cfg.BlinkPeriod, slog.Default()); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("blink failed", "err", err)
		os.Exit(1)
	}

	slog.Info("shutting down")
}
