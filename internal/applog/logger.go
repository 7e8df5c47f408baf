// Package applog provides a thread-safe, levelled logger backed by the
// standard library's log package, optionally routed through a rotating
// file writer so a long-running scheduler doesn't grow an unbounded log
// file across weeks of timer activity.
package applog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents a logging verbosity level.
type Level int

const (
	// LevelDebug emits all messages.
	LevelDebug Level = iota
	// LevelInfo emits INFO, WARN and ERROR messages.
	LevelInfo
	// LevelWarn emits WARN and ERROR messages.
	LevelWarn
	// LevelError emits only ERROR messages.
	LevelError
)

// RotationConfig configures the optional lumberjack-backed file writer.
// A zero value disables rotation (File left empty means stderr is used).
type RotationConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger is a structured, levelled logger.
//
// Thread-safety: log.Logger (from the standard library) serialises writes
// to the underlying io.Writer with its own mutex. The Logger wrapper adds
// a second mutex only for the level field so that SetLevel may be called
// concurrently with logging methods from timer callbacks.
type Logger struct {
	infoLog  *log.Logger
	warnLog  *log.Logger
	errorLog *log.Logger
	debugLog *log.Logger
	mu       sync.RWMutex
	level    Level
	closer   io.Closer
}

// New creates a Logger that writes to stderr at the given minimum level.
func New(level Level) *Logger {
	return newWithWriter(os.Stderr, level, nil)
}

// NewRotating creates a Logger that writes through a lumberjack rotating
// file writer. If rc.File is empty it behaves exactly like New.
func NewRotating(level Level, rc RotationConfig) *Logger {
	if rc.File == "" {
		return New(level)
	}
	lj := &lumberjack.Logger{
		Filename:   rc.File,
		MaxSize:    rc.MaxSizeMB,
		MaxBackups: rc.MaxBackups,
		MaxAge:     rc.MaxAgeDays,
		Compress:   true,
	}
	return newWithWriter(lj, level, lj)
}

func newWithWriter(w io.Writer, level Level, closer io.Closer) *Logger {
	flags := log.Ldate | log.Ltime | log.Lmicroseconds
	return &Logger{
		infoLog:  log.New(w, "INFO  ", flags),
		warnLog:  log.New(w, "WARN  ", flags),
		errorLog: log.New(w, "ERROR ", flags),
		debugLog: log.New(w, "DEBUG ", flags),
		level:    level,
		closer:   closer,
	}
}

// Close releases the underlying rotating writer, if any. Safe to call on
// a stderr-backed Logger (no-op).
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// SetLevel changes the minimum log level at runtime. Safe for concurrent use.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) enabled(lvl Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level <= lvl
}

// Info logs a message at INFO level.
func (l *Logger) Info(msg string) {
	if l.enabled(LevelInfo) {
		l.infoLog.Output(2, msg) //nolint:errcheck
	}
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// Warn logs a message at WARN level.
func (l *Logger) Warn(msg string) {
	if l.enabled(LevelWarn) {
		l.warnLog.Output(2, msg) //nolint:errcheck
	}
}

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string) {
	if l.enabled(LevelError) {
		l.errorLog.Output(2, msg) //nolint:errcheck
	}
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string) {
	if l.enabled(LevelDebug) {
		l.debugLog.Output(2, msg) //nolint:errcheck
	}
}

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}
