package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/WhyShailesh/whisper-rooms/internal/config"
	"github.com/WhyShailesh/whisper-rooms/internal/logring"
)

// Setup configures the global slog logger from config. When ring is
// non-nil, records are also captured for the admin log API. Returns the
// lumberjack logger (if file logging) so it can be closed on shutdown.
func Setup(cfg config.LoggingConfig, ring *logring.Ring) *lumberjack.Logger {
	var w io.Writer = os.Stdout
	var lj *lumberjack.Logger

	if cfg.File != "" {
		lj = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = lj
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	if ring != nil {
		handler = logring.NewHandler(handler, ring)
	}

	slog.SetDefault(slog.New(handler))
	return lj
}

// ParseLevel maps a config level string onto a slog.Level.
// Unknown values fall back to info.
func ParseLevel(level string) slog.Level {
	switch level {
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
