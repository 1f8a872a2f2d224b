package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

// FileConfig controls rotation of service file loggers.
type FileConfig struct {
	Enabled    bool   // When false, service loggers fall back to the structured logger
	Dir        string // Directory for service log files
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu                  sync.RWMutex
	structuredLogger    *slog.Logger
	humanReadableLogger *slog.Logger
	rootLevel           = new(slog.LevelVar)
	fileConfig          = FileConfig{Dir: "logs", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28}
)

func replaceLevelName(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if !ok {
			return a
		}
		levelLabel, exists := levelNames[level]
		if !exists {
			levelLabel = level.String()
		}
		a.Value = slog.StringValue(levelLabel)
	}
	return a
}

// Init initializes the logging system with structured and human-readable loggers.
// Structured JSON goes to stdout, human-readable text to stderr.
func Init() {
	SetOutput(os.Stdout, os.Stderr)
}

// SetLevel sets the minimum level of the root loggers.
func SetLevel(level slog.Level) {
	rootLevel.Set(level)
}

// SetOutput redirects both root loggers, e.g. to io.Discard in tests.
func SetOutput(structuredOutput, humanReadableOutput io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	opts := &slog.HandlerOptions{Level: rootLevel, ReplaceAttr: replaceLevelName}
	structuredLogger = slog.New(slog.NewJSONHandler(structuredOutput, opts))
	humanReadableLogger = slog.New(slog.NewTextHandler(humanReadableOutput, opts))

	slog.SetDefault(structuredLogger)
}

// ConfigureFiles sets rotation settings used by NewFileLogger.
func ConfigureFiles(cfg FileConfig) {
	mu.Lock()
	defer mu.Unlock()
	fileConfig = cfg
}

// Structured returns the globally configured structured (JSON) logger.
func Structured() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if structuredLogger == nil {
		return slog.Default()
	}
	return structuredLogger
}

// HumanReadable returns the globally configured human-readable (Text) logger.
func HumanReadable() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if humanReadableLogger == nil {
		return slog.Default()
	}
	return humanReadableLogger
}

// ForService creates a logger with the 'service' attribute added.
func ForService(serviceName string) *slog.Logger {
	return Structured().With("service", serviceName)
}

// Debug logs a debug message using the default slog logger.
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

// Info logs an info message using the default slog logger.
func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

// Warn logs a warning message using the default slog logger.
func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// Error logs an error message using the default slog logger.
func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}

// Fatal logs at the custom Fatal level and exits.
func Fatal(msg string, args ...any) {
	slog.Log(context.TODO(), LevelFatal, msg, args...)
	os.Exit(1)
}

// Trace logs a trace message using the custom Trace level.
func Trace(msg string, args ...any) {
	slog.Log(context.TODO(), LevelTrace, msg, args...)
}

// NewFileLogger creates a JSON logger writing to <Dir>/<fileName>, rotated by lumberjack.
// It returns the logger and a close function. When file logging is disabled the
// structured logger is returned with a no-op closer.
func NewFileLogger(fileName, serviceName string, level *slog.LevelVar) (*slog.Logger, func() error, error) {
	mu.RLock()
	cfg := fileConfig
	mu.RUnlock()

	if !cfg.Enabled {
		return ForService(serviceName), func() error { return nil }, nil
	}

	filePath := filepath.Join(cfg.Dir, fileName)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory %s: %w", cfg.Dir, err)
	}

	logWriter := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}

	handler := slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelName,
	})

	return slog.New(handler).With("service", serviceName), logWriter.Close, nil
}

// ServiceLogger returns a file logger for serviceName, falling back to the
// structured logger when the file cannot be opened.
func ServiceLogger(serviceName string, level *slog.LevelVar) (*slog.Logger, func() error) {
	logger, closer, err := NewFileLogger(serviceName+".log", serviceName, level)
	if err != nil {
		Warn("service file logger unavailable, using structured logger",
			"service", serviceName, "error", err)
		return ForService(serviceName), func() error { return nil }
	}
	return logger, closer
}
