// Package logging provides the leveled logger shared by the portal services.
//
// Lines are written through a standard *log.Logger as "LEVEL msg key=value ...".
// When Rollbar is enabled, warnings and errors are also reported there with the
// key/value pairs attached as custom data.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/rollbar/rollbar-go"
)

// Logger is the logging contract used across the codebase.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
}

// StdLogger writes leveled key/value lines to a *log.Logger.
type StdLogger struct {
	std     *log.Logger
	debug   bool
	mu      sync.RWMutex
	rollbar bool
}

var _ Logger = (*StdLogger)(nil)

// New returns a logger writing to std. A nil std logs to stderr.
func New(std *log.Logger, debug bool) *StdLogger {
	if std == nil {
		std = log.New(os.Stderr, "", log.LstdFlags|log.LUTC)
	}
	return &StdLogger{std: std, debug: debug}
}

// EnableRollbar forwards Warn and Error entries to Rollbar.
func (l *StdLogger) EnableRollbar(token, env, build string) {
	if token == "" {
		return
	}
	rollbar.SetToken(token)
	rollbar.SetEnvironment(env)
	rollbar.SetCodeVersion(build)
	rollbar.SetEnabled(true)

	l.mu.Lock()
	l.rollbar = true
	l.mu.Unlock()
}

// Close flushes pending Rollbar reports.
func (l *StdLogger) Close() {
	l.mu.RLock()
	enabled := l.rollbar
	l.mu.RUnlock()
	if enabled {
		rollbar.Close()
	}
}

func (l *StdLogger) Debug(msg string, keyvals ...interface{}) {
	if !l.debug {
		return
	}
	l.print("DEBUG", msg, keyvals)
}

func (l *StdLogger) Info(msg string, keyvals ...interface{}) {
	l.print("INFO", msg, keyvals)
}

func (l *StdLogger) Warn(msg string, keyvals ...interface{}) {
	l.print("WARN", msg, keyvals)
	if l.reporting() {
		rollbar.Warning(msg, fields(keyvals))
	}
}

func (l *StdLogger) Error(msg string, keyvals ...interface{}) {
	l.print("ERROR", msg, keyvals)
	if l.reporting() {
		if err := firstError(keyvals); err != nil {
			rollbar.Error(err, fields(keyvals))
			return
		}
		rollbar.Error(msg, fields(keyvals))
	}
}

func (l *StdLogger) reporting() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rollbar
}

func (l *StdLogger) print(level, msg string, keyvals []interface{}) {
	l.std.Println(Format(level, msg, keyvals...))
}

// Format renders a log line. Odd trailing keys get the value "MISSING".
func Format(level, msg string, keyvals ...interface{}) string {
	var b strings.Builder
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(msg)
	for i := 0; i < len(keyvals); i += 2 {
		b.WriteByte(' ')
		b.WriteString(fmt.Sprint(keyvals[i]))
		b.WriteByte('=')
		if i+1 < len(keyvals) {
			b.WriteString(quote(fmt.Sprint(keyvals[i+1])))
		} else {
			b.WriteString("MISSING")
		}
	}
	return b.String()
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

func fields(keyvals []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		out[fmt.Sprint(keyvals[i])] = keyvals[i+1]
	}
	return out
}

func firstError(keyvals []interface{}) error {
	for i := 1; i < len(keyvals); i += 2 {
		if err, ok := keyvals[i].(error); ok {
			return err
		}
	}
	return nil
}

type nop struct{}

func (nop) Debug(string, ...interface{}) {}
func (nop) Info(string, ...interface{})  {}
func (nop) Warn(string, ...interface{})  {}
func (nop) Error(string, ...interface{}) {}

// Nop discards everything.
func Nop() Logger { return nop{} }

// Discard returns a StdLogger writing nowhere, useful in tests that only need the type.
func Discard() *StdLogger {
	return New(log.New(io.Discard, "", 0), false)
}
