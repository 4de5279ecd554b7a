package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alkime/mp3rec/internal/config"
)

// SetupLogger configures structured logging based on environment.
func SetupLogger(cfg *config.Config) *slog.Logger {
	//nolint:exhaustruct // Using default values for other HandlerOptions fields
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: Level(cfg.Env, cfg.LogLevel),
	})

	logger := slog.New(handler)

	// Set as default logger
	slog.SetDefault(logger)

	return logger
}

// SetupCLILogger configures a human-readable logger on w.
func SetupCLILogger(w io.Writer, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	//nolint:exhaustruct // Using default values for other HandlerOptions fields
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	return logger
}

// Level picks the log level: debug in development, otherwise LOG_LEVEL.
func Level(env, level string) slog.Level {
	if env == "development" {
		return slog.LevelDebug
	}

	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
