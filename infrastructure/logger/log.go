package logger

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Disabled is a Logger that discards everything. Every leaf package
// declares `var log = logger.Disabled` and a `UseLogger` setter; the
// controller wires a real Logger from one process-wide Backend at
// startup (spec §9 "global state" - explicit collaborator, not an
// ambient singleton).
var Disabled = &Logger{level: LevelOff}

// logEntry is a single formatted line handed off to the backend's write
// loop, already rendered so producers never block on formatting.
type logEntry struct {
	level Level
	log   []byte
}

// Logger writes formatted log messages for one subsystem (e.g. "WIRE",
// "PEER", "UTXO") to a shared Backend. Every package in the node kernel
// (spec §9 "global state") is handed its own Logger constructed from one
// process-wide Backend rather than reaching for a package-level singleton.
type Logger struct {
	level        Level
	subsystemTag string
	backend      *Backend
	writeChan    chan logEntry
}

// SetLevel changes the logging level of the logger.
func (l *Logger) SetLevel(level Level) {
	atomic.StoreUint32((*uint32)(&l.level), uint32(level))
}

// Level returns the current logging level of the logger.
func (l *Logger) Level() Level {
	return Level(atomic.LoadUint32((*uint32)(&l.level)))
}

func (l *Logger) write(level Level, s string) {
	if level < l.Level() {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	line := fmt.Sprintf("%s [%s] %s: %s\n", ts, level, l.subsystemTag, s)
	entry := logEntry{level: level, log: []byte(line)}
	select {
	case l.writeChan <- entry:
	default:
		// Backend isn't running (or its buffer is momentarily full) -
		// don't let a stalled logger block the caller's hot path.
	}
}

// Tracef logs at the trace level using fmt.Sprintf-style formatting.
func (l *Logger) Tracef(format string, args ...interface{}) {
	l.write(LevelTrace, fmt.Sprintf(format, args...))
}

// Debugf logs at the debug level using fmt.Sprintf-style formatting.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.write(LevelDebug, fmt.Sprintf(format, args...))
}

// Infof logs at the info level using fmt.Sprintf-style formatting.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.write(LevelInfo, fmt.Sprintf(format, args...))
}

// Warnf logs at the warn level using fmt.Sprintf-style formatting.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.write(LevelWarn, fmt.Sprintf(format, args...))
}

// Errorf logs at the error level using fmt.Sprintf-style formatting.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.write(LevelError, fmt.Sprintf(format, args...))
}

// Criticalf logs at the critical level using fmt.Sprintf-style formatting.
func (l *Logger) Criticalf(format string, args ...interface{}) {
	l.write(LevelCritical, fmt.Sprintf(format, args...))
}

// Trace logs the concatenation of args at the trace level.
func (l *Logger) Trace(args ...interface{}) {
	l.write(LevelTrace, fmt.Sprint(args...))
}

// Debug logs the concatenation of args at the debug level.
func (l *Logger) Debug(args ...interface{}) {
	l.write(LevelDebug, fmt.Sprint(args...))
}

// Info logs the concatenation of args at the info level.
func (l *Logger) Info(args ...interface{}) {
	l.write(LevelInfo, fmt.Sprint(args...))
}

// Warn logs the concatenation of args at the warn level.
func (l *Logger) Warn(args ...interface{}) {
	l.write(LevelWarn, fmt.Sprint(args...))
}

// Error logs the concatenation of args at the error level.
func (l *Logger) Error(args ...interface{}) {
	l.write(LevelError, fmt.Sprint(args...))
}
