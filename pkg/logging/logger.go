// Package logging provides the engine's global structured logger, a thin
// wrapper over log/slog with lazy default initialization.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

var (
	logger   *slog.Logger
	loggerMu sync.RWMutex
	logFile  *os.File
	isInited bool
	initOnce sync.Once
)

// Level names accepted by Config.Level.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Config holds logger configuration.
type Config struct {
	Level      Level
	OutputPath string // empty for stdout
	Format     string // "json" or "text"
}

// Init initializes the global logger. Call once at startup; a second call
// without an intervening Close returns an error.
func Init(config Config) error {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if isInited {
		return fmt.Errorf("logger already initialized; call Close() first to reinitialize")
	}

	var writer io.Writer
	if config.OutputPath == "" {
		writer = os.Stdout
	} else {
		if err := os.MkdirAll(filepath.Dir(config.OutputPath), 0o750); err != nil {
			return err
		}
		file, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return err
		}
		writer = file
		logFile = file
	}

	var level slog.Level
	switch config.Level {
	case LevelDebug:
		level = slog.LevelDebug
	case LevelWarn:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	logger = slog.New(handler)
	isInited = true
	return nil
}

// InitDefault initializes the logger with INFO/text/stdout defaults. Safe to
// call multiple times.
func InitDefault() {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if isInited {
		return
	}
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	isInited = true
}

// Close closes the logger and any open file handle. Init may be called again
// afterwards.
func Close() error {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if !isInited {
		return nil
	}
	var err error
	if logFile != nil {
		err = logFile.Close()
		logFile = nil
	}
	logger = nil
	isInited = false
	initOnce = sync.Once{}
	return err
}

// GetLogger returns the current logger, initializing defaults on first use.
func GetLogger() *slog.Logger {
	loggerMu.RLock()
	if isInited {
		l := logger
		loggerMu.RUnlock()
		return l
	}
	loggerMu.RUnlock()

	initOnce.Do(InitDefault)

	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	return l
}

// WithComponent returns a logger scoped to a subsystem.
func WithComponent(component string) *slog.Logger {
	return GetLogger().With("component", component)
}

// WithVolume returns a logger scoped to a volume.
func WithVolume(name string) *slog.Logger {
	return GetLogger().With("volume", name)
}

// WithTree returns a logger scoped to a volume:tree pair.
func WithTree(volume, tree string) *slog.Logger {
	return GetLogger().With("volume", volume, "tree", tree)
}

// Debug logs a debug message on the global logger.
func Debug(msg string, args ...any) {
	GetLogger().Debug(msg, args...)
}

// Info logs an info message on the global logger.
func Info(msg string, args ...any) {
	GetLogger().Info(msg, args...)
}

// Warn logs a warning message on the global logger.
func Warn(msg string, args ...any) {
	GetLogger().Warn(msg, args...)
}

// Error logs an error message on the global logger.
func Error(msg string, args ...any) {
	GetLogger().Error(msg, args...)
}
