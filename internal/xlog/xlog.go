// Package xlog is a minimal leveled logger for build and open diagnostics.
// It wraps the standard library logger rather than pulling in a logging
// framework; the index core emits a handful of lines per operation, not a
// stream.
package xlog

import (
	"io"
	"log"
)

// Logger writes leveled lines to an underlying writer. The zero-value-like
// [Discard] logger drops everything, so callers can hold a *Logger
// unconditionally instead of nil-checking at every call site.
type Logger struct {
	out   *log.Logger
	debug bool
}

// New returns a logger writing to w. Debug lines are emitted only when
// debug is true; Info and Error lines always are.
func New(w io.Writer, debug bool) *Logger {
	return &Logger{out: log.New(w, "", log.LstdFlags), debug: debug}
}

// Discard returns a logger that drops every line.
func Discard() *Logger {
	return &Logger{}
}

// Debugf logs a formatted line at debug level.
func (l *Logger) Debugf(format string, args ...any) {
	if l.out == nil || !l.debug {
		return
	}
	l.out.Printf("DEBUG "+format, args...)
}

// Infof logs a formatted line at info level.
func (l *Logger) Infof(format string, args ...any) {
	if l.out == nil {
		return
	}
	l.out.Printf("INFO "+format, args...)
}

// Errorf logs a formatted line at error level.
func (l *Logger) Errorf(format string, args ...any) {
	if l.out == nil {
		return
	}
	l.out.Printf("ERROR "+format, args...)
}
