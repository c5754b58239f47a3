// Package monitoring holds the process-wide diagnostic logger used by code
// that has no log stream of its own.
package monitoring

import (
	"bytes"
	"io"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Writer returns an io.Writer that forwards each write to Logf with
// trailing newlines trimmed. It lets libraries that take a *log.Logger or
// an io.Writer share the diagnostic logger.
func Writer() io.Writer { return logfWriter{} }

type logfWriter struct{}

func (logfWriter) Write(p []byte) (int, error) {
	Logf("%s", bytes.TrimRight(p, "\n"))
	return len(p), nil
}
