// Package logging configures structured JSON logging with size-based
// file rotation. Stdio transport mode logs to file only: stdout
// carries the JSON-RPC stream and stderr noise corrupts some client
// pipes.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls where and how much the process logs.
type Config struct {
	// Level is the minimum level (debug, info, warn, error).
	Level string
	// FilePath is the log file. Empty disables file logging.
	FilePath string
	// MaxSizeMB is the rotation threshold (default 10).
	MaxSizeMB int
	// MaxFiles bounds how many rotated files are kept (default 5).
	MaxFiles int
	// WriteToStderr mirrors logs to stderr for interactive use.
	WriteToStderr bool
}

// DefaultConfig logs at info to the default file and stderr.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// Setup builds a logger per the config and returns it with a cleanup
// that flushes and closes the file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var out io.Writer
	cleanup := func() {}

	if cfg.FilePath != "" {
		w, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		out = w
		cleanup = func() {
			_ = w.Sync()
			_ = w.Close()
		}
		if cfg.WriteToStderr {
			out = io.MultiWriter(w, os.Stderr)
		}
	} else if cfg.WriteToStderr {
		out = os.Stderr
	} else {
		out = io.Discard
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	})
	return slog.New(handler), cleanup, nil
}

// SetupDefault installs the default configuration as the process
// logger.
func SetupDefault() (func(), error) {
	logger, cleanup, err := Setup(DefaultConfig())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cleanup, nil
}

// SetupStdioMode installs file-only logging for the stdio transport.
// Nothing may touch stdout or stderr while JSON-RPC owns them.
func SetupStdioMode(level string) (func(), error) {
	cfg := DefaultConfig()
	if level != "" {
		cfg.Level = level
	}
	cfg.WriteToStderr = false

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	logger.Info("stdio_logging_initialized",
		slog.String("file", cfg.FilePath),
		slog.String("level", cfg.Level))
	return cleanup, nil
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
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
