// Package logging provides structured logging for tether. Output goes to
// stderr so it never interleaves with streamed agent output on stdout.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	clog "github.com/charmbracelet/log"
)

// Logger is the structured logging interface used across the module.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	// With returns a new logger with additional key-value pairs.
	With(args ...any) Logger
}

type loggerImpl struct {
	clogger *clog.Logger
}

// New creates a logger writing to w at the given level ("debug", "info",
// "warn", "error"; anything else means info).
func New(w io.Writer, level string) Logger {
	clogger := clog.NewWithOptions(w, clog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           parseLevel(level),
	})
	return &loggerImpl{clogger: clogger}
}

// parseLevel converts a string level to clog.Level.
func parseLevel(level string) clog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return clog.DebugLevel
	case "info":
		return clog.InfoLevel
	case "warn", "warning":
		return clog.WarnLevel
	case "error":
		return clog.ErrorLevel
	default:
		return clog.InfoLevel
	}
}

func (l *loggerImpl) Debug(msg string, args ...any) { l.clogger.Debug(msg, args...) }
func (l *loggerImpl) Info(msg string, args ...any)  { l.clogger.Info(msg, args...) }
func (l *loggerImpl) Warn(msg string, args ...any)  { l.clogger.Warn(msg, args...) }
func (l *loggerImpl) Error(msg string, args ...any) { l.clogger.Error(msg, args...) }

func (l *loggerImpl) With(args ...any) Logger {
	return &loggerImpl{clogger: l.clogger.With(args...)}
}

// Noop is a logger that discards everything. Used as the default in
// components whose caller did not supply a logger, and in tests.
type Noop struct{}

func (Noop) Debug(msg string, args ...any) {}
func (Noop) Info(msg string, args ...any)  {}
func (Noop) Warn(msg string, args ...any)  {}
func (Noop) Error(msg string, args ...any) {}
func (Noop) With(args ...any) Logger       { return Noop{} }

var (
	globalMu     sync.RWMutex
	globalLogger Logger = Noop{}
)

// SetGlobal installs the process-wide logger. Called once from the CLI
// composition root after config is loaded.
func SetGlobal(l Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Global returns the process-wide logger.
func Global() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// InitGlobal configures the global logger to write to stderr at the given
// level and returns it.
func InitGlobal(level string) Logger {
	l := New(os.Stderr, level)
	SetGlobal(l)
	return l
}
