// Package observability provides logging, metrics, and tracing for the
// intelligence worker. Loggers and the correlation ID travel on the context;
// metrics are Prometheus collectors registered once at startup.
package observability

import (
	"log/slog"
	"os"
	"strings"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/config"
)

// SetupLogger configures a slog logger with service fields. Format and level
// follow LOG_FORMAT/LOG_LEVEL; dev defaults to debug when the level was left
// at its default.
func SetupLogger(cfg config.Config) *slog.Logger {
	level := parseLevel(cfg.LogLevel)
	if cfg.IsDev() && strings.ToLower(cfg.LogLevel) == "info" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.ToLower(cfg.LogFormat) == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h).With(
		slog.String("service", cfg.ServiceName),
		slog.String("env", cfg.AppEnv),
		slog.String("instance", cfg.ServiceInstanceID),
	)
}

func parseLevel(s string) slog.Level {
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
