package app

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger builds the process logger. Production runs emit JSON; anything
// else gets text output. Every record carries the service and environment.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	env := "development"
	format := ""
	if cfg != nil {
		env = cfg.AppEnv
		format = cfg.LogFormat
		var level slog.Level
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err == nil {
			opts.Level = level
		}
	}

	var handler slog.Handler
	if format == "json" || (format == "" && cfg.IsProduction()) {
		opts.AddSource = true
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With(slog.String("service", "receiving"), slog.String("env", env))
}
