// Package logger provides process-wide structured logging built on log/slog.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the package-level logger used throughout fleetpulse.
var Log *slog.Logger

func init() {
	// Safe default so packages that log during test init never hit a nil pointer.
	Log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// Config controls the logger's level, format, and destination.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, text
	Output     string // stdout, stderr, file
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Init initializes the global logger with a bare level, JSON to stdout.
func Init(level string) {
	InitWithConfig(Config{Level: level, Format: "json", Output: "stdout"})
}

// InitWithConfig initializes the global logger from a full configuration.
func InitWithConfig(cfg Config) {
	var lvl slog.Level
	switch cfg.Level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var writer io.Writer
	switch cfg.Output {
	case "stderr":
		writer = os.Stderr
	case "file":
		if cfg.FilePath == "" {
			cfg.FilePath = "logs/fleetpulse.log"
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			writer = os.Stdout
		} else {
			writer = &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			}
		}
	default:
		writer = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: lvl, AddSource: lvl == slog.LevelDebug}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	Log = slog.New(handler)
}

// With returns a derived logger carrying the given key/value pairs.
func With(args...any) *slog.Logger { return Log.With(args...) }

// WithComponent tags log lines with the subsystem that emitted them.
func WithComponent(name string) *slog.Logger { return Log.With("component", name) }

func Debug(msg string, args...any) { Log.Debug(msg, args...) }
func Info(msg string, args...any)  { Log.Info(msg, args...) }
func Warn(msg string, args...any)  { Log.Warn(msg, args...) }
func Error(msg string, args...any) { Log.Error(msg, args...) }

// Fatal logs at error level and terminates the process.
func Fatal(msg string, args...any) {
	Log.Error(msg, args...)
	os.Exit(1)
}
