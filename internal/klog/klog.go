// Package klog provides the kernel core's structured logging, a thin wrapper
// around github.com/rs/zerolog (the library backing the example pack's
// logiface/zerolog adapter) with a component field attached per subsystem.
package klog

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	baseOnce sync.Once
	base     zerolog.Logger
)

// initBase builds the process-wide root logger. Output defaults to a
// console writer on stderr, matching the teacher pack's development-mode
// defaults (logiface/zerolog's own examples favor a human-readable console
// writer over raw JSON during local runs).
func initBase() {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	base = zerolog.New(w).With().Timestamp().Logger()
}

// SetOutput redirects the root logger to w as structured JSON, for
// production-style deployment or for tests that want to capture output.
func SetOutput(w io.Writer) {
	baseOnce.Do(initBase)
	base = zerolog.New(w).With().Timestamp().Logger()
}

// Logger is a component-scoped logger.
type Logger struct {
	z zerolog.Logger
}

// For returns a Logger scoped to the named subsystem, e.g. "epoch",
// "runqueue", "sched", "registry".
func For(component string) Logger {
	baseOnce.Do(initBase)
	return Logger{z: base.With().Str("component", component).Logger()}
}

// Debug logs a debug-level structured event.
func (l Logger) Debug(msg string, kv ...any) { l.event(l.z.Debug(), msg, kv) }

// Info logs an info-level structured event.
func (l Logger) Info(msg string, kv ...any) { l.event(l.z.Info(), msg, kv) }

// Warn logs a warn-level structured event.
func (l Logger) Warn(msg string, kv ...any) { l.event(l.z.Warn(), msg, kv) }

// Error logs an error-level structured event.
func (l Logger) Error(err error, msg string, kv ...any) {
	l.event(l.z.Error().Err(err), msg, kv)
}

// Fatal logs at error level then panics. Kernel-core invariant violations
// that have already been converted to a log line (rather than going
// straight through kerr.Fatalf) call this so the failure is both recorded
// and fatal, matching spec §7's "Fatal (invariant violation...)" class.
func (l Logger) Fatal(msg string, kv ...any) {
	l.event(l.z.Error(), msg, kv)
	panic("klog: fatal: " + msg)
}

func (l Logger) event(e *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}
