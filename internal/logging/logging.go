// Package logging builds the slog loggers used by every CatScan binary and
// bridges asynq's internal logger onto them.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	case "text", "console":
		handler = slog.NewTextHandler(out, handlerOpts)
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
	return slog.New(handler), nil
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log level: unsupported value %q", s)
	}
}

// AsynqLogger adapts a slog logger to asynq.Logger.
type AsynqLogger struct {
	logger *slog.Logger
}

// NewAsynqLogger wraps logger for asynq.Config.Logger.
func NewAsynqLogger(logger *slog.Logger) *AsynqLogger {
	return &AsynqLogger{logger: logger.With("component", "asynq")}
}

func (l *AsynqLogger) Debug(args ...interface{}) { l.log(slog.LevelDebug, args) }
func (l *AsynqLogger) Info(args ...interface{})  { l.log(slog.LevelInfo, args) }
func (l *AsynqLogger) Warn(args ...interface{})  { l.log(slog.LevelWarn, args) }
func (l *AsynqLogger) Error(args ...interface{}) { l.log(slog.LevelError, args) }

// Fatal logs at error level and exits, matching asynq's expectations.
func (l *AsynqLogger) Fatal(args ...interface{}) {
	l.log(slog.LevelError, args)
	os.Exit(1)
}

func (l *AsynqLogger) log(level slog.Level, args []interface{}) {
	l.logger.Log(context.Background(), level, strings.TrimSpace(fmt.Sprint(args...)))
}
