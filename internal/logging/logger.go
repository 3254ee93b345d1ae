package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"cloudpico-publisher/internal/config"
)

// New builds the process logger. Dev builds get colored tint output, release
// builds get JSON. When cfg.LogFile is set the same stream is also written to
// a size-rotated file.
func New(cfg config.Config, version string, appName string) *slog.Logger {
	return newWithWriter(cfg, version, appName, output(cfg))
}

func newWithWriter(cfg config.Config, version string, appName string, w io.Writer) *slog.Logger {
	if version == "dev" {
		h := tint.NewHandler(w, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
			NoColor:    cfg.LogFile != "",
		})
		return slog.New(h).With("app", appName)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	return slog.New(h).With(
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
	)
}

func output(cfg config.Config) io.Writer {
	if cfg.LogFile == "" {
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    5, // MB
		MaxBackups: 3,
		MaxAge:     14,
		Compress:   true,
	})
}
