// Package logging provides structured logging using zap
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// NewDefaultLogger creates a logger with default configuration using zap
func NewDefaultLogger() Logger {
	logger, err := NewZapLogger(DefaultLogConfig())
	if err != nil {
		panic(fmt.Sprintf("failed to initialize default zap logger: %v", err))
	}
	return logger
}

// InitGlobalLogger replaces the global logger with one writing at level to
// logFile, or to stdout when logFile is empty. The returned closer releases
// the file handle and is a no-op for stdout.
func InitGlobalLogger(level, logFile string) (io.Closer, error) {
	var (
		output io.Writer
		closer io.Closer = nopCloser{}
	)

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		output = file
		closer = file
	}

	parsed := ParseLevel(level)
	logger, err := NewZapLogger(LogConfig{
		Level:      parsed,
		Output:     output,
		TimeFormat: time.RFC3339,
	})
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	SetGlobalLogger(logger)

	logger.Info("Logger initialized",
		String("level", parsed.String()),
		String("log_file", logFile),
	)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// MustSync flushes any buffered log entries for zap loggers.
// Call before exit.
func MustSync() {
	if zapLogger, ok := GetGlobalLogger().(*ZapAdapter); ok {
		_ = zapLogger.Sync()
	}
}

// WithContext is a convenience function to add context to the global logger
func WithContext(ctx context.Context) Logger {
	return GetGlobalLogger().WithContext(ctx)
}

// WithFields is a convenience function to add fields to the global logger
func WithFields(fields ...Field) Logger {
	return GetGlobalLogger().WithFields(fields...)
}

// Strings creates a string slice field
func Strings(key string, values []string) Field {
	return Field{Key: key, Value: values}
}

// Err creates an error field with key "error"
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}
