// Package logger provides a simple logging interface for rx components.
// It allows packages to log debug, info, warn, and error messages without
// being coupled to a specific logging implementation. The default
// implementation writes zerolog console output to stderr.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Logger defines the interface for logging operations.
// All methods accept a format string and arguments, similar to fmt.Printf.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})

	// With returns a logger that attaches key=value to every message.
	With(key string, value interface{}) Logger
}

// debugForced turns on debug output regardless of RX_DEBUG (set by --verbose).
var debugForced atomic.Bool

// SetDebug forces debug output on or off.
func SetDebug(enabled bool) {
	debugForced.Store(enabled)
}

// DebugEnabled reports whether debug messages are emitted.
func DebugEnabled() bool {
	return debugForced.Load() || os.Getenv("RX_DEBUG") != ""
}

// envLogger implements Logger on top of zerolog.
// Debug messages are only printed when RX_DEBUG is set or SetDebug(true) was called.
type envLogger struct {
	zl zerolog.Logger
}

// NewEnvLogger creates a stderr logger tagged with the given component name
// (e.g., "conn" or "engine").
func NewEnvLogger(component string) Logger {
	return NewWriterLogger(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.TimeOnly,
	}, component)
}

// NewWriterLogger creates a logger writing to w. Useful for tests and for
// redirecting log output to a file.
func NewWriterLogger(w io.Writer, component string) Logger {
	zl := zerolog.New(w).With().Timestamp().Logger()
	if component != "" {
		zl = zl.With().Str("component", component).Logger()
	}
	return &envLogger{zl: zl}
}

func (l *envLogger) Debug(format string, args ...interface{}) {
	if DebugEnabled() {
		l.zl.WithLevel(zerolog.DebugLevel).Msgf(format, args...)
	}
}

func (l *envLogger) Info(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

func (l *envLogger) Warn(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *envLogger) Error(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}

func (l *envLogger) With(key string, value interface{}) Logger {
	return &envLogger{zl: l.zl.With().Interface(key, value).Logger()}
}

// noopLogger implements Logger but discards all messages.
type noopLogger struct{}

// Noop returns a logger that discards all messages.
func Noop() Logger {
	return &noopLogger{}
}

func (l *noopLogger) Debug(format string, args ...interface{}) {}
func (l *noopLogger) Info(format string, args ...interface{})  {}
func (l *noopLogger) Warn(format string, args ...interface{})  {}
func (l *noopLogger) Error(format string, args ...interface{}) {}

func (l *noopLogger) With(key string, value interface{}) Logger { return l }

// LogMessage represents a captured log message.
type LogMessage struct {
	Level   string
	Message string
	Fields  map[string]interface{}
}

// BufferLogger captures log messages for testing. Safe for concurrent use;
// loggers derived with With share the parent's buffer.
type BufferLogger struct {
	mu       *sync.Mutex
	messages *[]LogMessage
	fields   map[string]interface{}
}

// NewBufferLogger creates a logger that captures messages for inspection.
func NewBufferLogger() *BufferLogger {
	msgs := make([]LogMessage, 0)
	return &BufferLogger{
		mu:       &sync.Mutex{},
		messages: &msgs,
	}
}

func (l *BufferLogger) record(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.messages = append(*l.messages, LogMessage{
		Level:   level,
		Message: fmt.Sprintf(format, args...),
		Fields:  l.fields,
	})
}

func (l *BufferLogger) Debug(format string, args ...interface{}) {
	l.record("debug", format, args...)
}

func (l *BufferLogger) Info(format string, args ...interface{}) {
	l.record("info", format, args...)
}

func (l *BufferLogger) Warn(format string, args ...interface{}) {
	l.record("warn", format, args...)
}

func (l *BufferLogger) Error(format string, args ...interface{}) {
	l.record("error", format, args...)
}

func (l *BufferLogger) With(key string, value interface{}) Logger {
	fields := make(map[string]interface{}, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &BufferLogger{mu: l.mu, messages: l.messages, fields: fields}
}

// Messages returns a snapshot of the captured messages.
func (l *BufferLogger) Messages() []LogMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogMessage, len(*l.messages))
	copy(out, *l.messages)
	return out
}

// HasLevel returns true if any message was logged at the given level.
func (l *BufferLogger) HasLevel(level string) bool {
	for _, m := range l.Messages() {
		if m.Level == level {
			return true
		}
	}
	return false
}

// Clear removes all captured messages.
func (l *BufferLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.messages = (*l.messages)[:0]
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = NewEnvLogger("")
)

// Default returns the package-level default logger.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault sets the default logger for the package.
func SetDefault(l Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}
