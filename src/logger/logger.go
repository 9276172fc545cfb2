package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for logging throughout the application.
// Different implementations can be used for different contexts (console, silent, file).
type Logger interface {
	Info(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}

// Level controls which messages a logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

// ParseLevel converts "debug", "info" or "error" to a Level. Unknown values
// fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// ConsoleLogger writes human-readable logs to stdout/stderr.
type ConsoleLogger struct {
	level Level
}

func NewConsoleLogger() *ConsoleLogger {
	return &ConsoleLogger{level: LevelDebug}
}

// NewConsoleLoggerWithLevel creates a console logger that drops messages below level.
func NewConsoleLoggerWithLevel(level Level) *ConsoleLogger {
	return &ConsoleLogger{level: level}
}

func (c *ConsoleLogger) Info(msg string, args ...interface{}) {
	if c.level <= LevelInfo {
		fmt.Printf("[INFO] "+msg+"\n", args...)
	}
}

func (c *ConsoleLogger) Error(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[ERROR] "+msg+"\n", args...)
}

func (c *ConsoleLogger) Debug(msg string, args ...interface{}) {
	if c.level <= LevelDebug {
		fmt.Printf("[DEBUG] "+msg+"\n", args...)
	}
}

// SilentLogger discards all log messages.
// Used by tests and by commands whose output is meant for a terminal table.
type SilentLogger struct{}

func NewSilentLogger() *SilentLogger {
	return &SilentLogger{}
}

func (s *SilentLogger) Info(msg string, args ...interface{})  {}
func (s *SilentLogger) Error(msg string, args ...interface{}) {}
func (s *SilentLogger) Debug(msg string, args ...interface{}) {}

// FileOptions configures a rotated log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      Level
}

// WriterLogger writes timestamped lines to an io.Writer.
// FileLogger is a WriterLogger backed by a rotating lumberjack file.
type WriterLogger struct {
	mu    sync.Mutex
	out   io.Writer
	level Level
	now   func() time.Time
}

// NewWriterLogger creates a logger writing to w.
func NewWriterLogger(w io.Writer, level Level) *WriterLogger {
	return &WriterLogger{out: w, level: level, now: time.Now}
}

// NewFileLogger creates a logger that writes to a size-rotated file.
func NewFileLogger(opts FileOptions) *WriterLogger {
	return NewWriterLogger(&lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}, opts.Level)
}

func (w *WriterLogger) write(tag, msg string, args ...interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "%s [%s] %s\n", w.now().UTC().Format(time.RFC3339), tag, fmt.Sprintf(msg, args...))
}

func (w *WriterLogger) Info(msg string, args ...interface{}) {
	if w.level <= LevelInfo {
		w.write("INFO", msg, args...)
	}
}

func (w *WriterLogger) Error(msg string, args ...interface{}) {
	w.write("ERROR", msg, args...)
}

func (w *WriterLogger) Debug(msg string, args ...interface{}) {
	if w.level <= LevelDebug {
		w.write("DEBUG", msg, args...)
	}
}

// Close releases the underlying writer when it is closable.
func (w *WriterLogger) Close() error {
	if c, ok := w.out.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Tee fans every message out to several loggers.
type Tee []Logger

func (t Tee) Info(msg string, args ...interface{}) {
	for _, l := range t {
		l.Info(msg, args...)
	}
}

func (t Tee) Error(msg string, args ...interface{}) {
	for _, l := range t {
		l.Error(msg, args...)
	}
}

func (t Tee) Debug(msg string, args ...interface{}) {
	for _, l := range t {
		l.Debug(msg, args...)
	}
}
