// Package diag provides the leveled, log-and-continue diagnostics used
// throughout the replay pipeline. Adapters and the VM are permissive by
// design: malformed or anomalous input is reported here rather than
// aborting the run.
package diag

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

// Level orders the severities from least to most verbose.
type Level int32

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "E"
	case LevelWarn:
		return "W"
	case LevelInfo:
		return "I"
	case LevelDebug:
		return "D"
	case LevelTrace:
		return "T"
	default:
		return "?"
	}
}

// Logger is a leveled wrapper around the standard library's log.Logger.
// Only messages at or below the configured level are emitted.
type Logger struct {
	out   *log.Logger
	level int32
}

// New returns a Logger writing to w with the given minimum level.
func New(w io.Writer, level Level) *Logger {
	return &Logger{
		out:   log.New(w, "", log.LstdFlags),
		level: int32(level),
	}
}

// Default returns a Logger writing to stderr at LevelWarn, matching the
// reduced verbosity a replay run wants by default (the VM and database
// log routine anomalies at Info/Debug).
func Default() *Logger {
	return New(os.Stderr, LevelWarn)
}

// SetLevel adjusts the minimum emitted level at runtime.
func (l *Logger) SetLevel(level Level) {
	atomic.StoreInt32(&l.level, int32(level))
}

func (l *Logger) enabled(level Level) bool {
	return int32(level) <= atomic.LoadInt32(&l.level)
}

func (l *Logger) log(level Level, format string, v ...interface{}) {
	if !l.enabled(level) {
		return
	}
	l.out.Printf("[%s] "+format, append([]interface{}{level}, v...)...)
}

func (l *Logger) Error(format string, v ...interface{}) { l.log(LevelError, format, v...) }
func (l *Logger) Warn(format string, v ...interface{})  { l.log(LevelWarn, format, v...) }
func (l *Logger) Info(format string, v ...interface{})  { l.log(LevelInfo, format, v...) }
func (l *Logger) Debug(format string, v ...interface{}) { l.log(LevelDebug, format, v...) }
func (l *Logger) Trace(format string, v ...interface{}) { l.log(LevelTrace, format, v...) }

var std = Default()

// SetDefaultLevel adjusts the package-level default logger used by
// components that don't carry an explicit *Logger (mirrors the teacher's
// package-level helper convenience, e.g. a CLI --verbose flag).
func SetDefaultLevel(level Level) { std.SetLevel(level) }

func Error(format string, v ...interface{}) { std.Error(format, v...) }
func Warn(format string, v ...interface{})  { std.Warn(format, v...) }
func Info(format string, v ...interface{})  { std.Info(format, v...) }
func Debug(format string, v ...interface{}) { std.Debug(format, v...) }
func Trace(format string, v ...interface{}) { std.Trace(format, v...) }

// Sprintf is a small convenience used by callers that need to pre-render a
// diagnostic string (e.g. for a Landmark payload) without going through
// the level gate.
func Sprintf(format string, v ...interface{}) string {
	return fmt.Sprintf(format, v...)
}
