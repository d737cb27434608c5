// Package logging provides the application's slog-based logging setup:
// a structured JSON logger, a human-readable console logger, and
// rotating per-service file loggers.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	structuredLogger *slog.Logger
	consoleLogger    *slog.Logger
	defaultLevelVar  = new(slog.LevelVar)
)

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

func replaceLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		if label, ok := levelNames[level]; ok {
			a.Value = slog.StringValue(label)
		}
	}
	return a
}

// Init initializes the logging system. Structured JSON goes to stdout,
// human-readable tinted output goes to stderr. The structured logger
// becomes the slog default.
func Init() {
	defaultLevelVar.Set(slog.LevelInfo)
	setOutput(os.Stdout, os.Stderr)
}

// SetLevel sets the minimum logging level for both loggers.
func SetLevel(level slog.Level) {
	defaultLevelVar.Set(level)
}

// SetOutput redirects logger output, primarily for tests.
func SetOutput(structuredOutput, consoleOutput io.Writer) {
	setOutput(structuredOutput, consoleOutput)
}

func setOutput(structuredOutput, consoleOutput io.Writer) {
	structuredHandler := slog.NewJSONHandler(structuredOutput, &slog.HandlerOptions{
		Level:       defaultLevelVar,
		ReplaceAttr: replaceLevelNames,
	})
	structuredLogger = slog.New(structuredHandler)

	consoleHandler := tint.NewHandler(consoleOutput, &tint.Options{
		Level:      defaultLevelVar,
		TimeFormat: time.TimeOnly,
	})
	consoleLogger = slog.New(consoleHandler)

	slog.SetDefault(structuredLogger)
}

// Structured returns the global structured (JSON) logger.
// Returns nil if Init has not been called.
func Structured() *slog.Logger {
	return structuredLogger
}

// Console returns the global human-readable logger.
// Returns nil if Init has not been called.
func Console() *slog.Logger {
	return consoleLogger
}

// ForService returns a logger with the 'service' attribute set, based
// on the global structured logger. Returns nil if Init has not been
// called.
func ForService(serviceName string) *slog.Logger {
	if structuredLogger == nil {
		return nil
	}
	return structuredLogger.With("service", serviceName)
}

// Convenience functions using the default logger.

func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}

// Fatal logs a message at the custom Fatal level and exits.
func Fatal(msg string, args ...any) {
	slog.Log(context.TODO(), LevelFatal, msg, args...)
	os.Exit(1)
}

// NewFileLogger creates a slog.Logger writing JSON to the given file
// path, rotated by lumberjack. All records carry a 'service' attribute.
// The returned close function releases the underlying writer.
func NewFileLogger(filePath, serviceName string, level slog.Leveler) (*slog.Logger, func() error, error) {
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	logWriter := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    100, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}

	fileHandler := slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	})
	logger := slog.New(fileHandler).With("service", serviceName)

	return logger, logWriter.Close, nil
}
