package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is a structured logger. Messages take trailing key/value pairs.
type Logger struct {
	entry *logrus.Entry
}

// NewLogger creates a new Logger writing text records to stdout at the
// given level. An unknown level falls back to info.
func NewLogger(level string) *Logger {
	return newLogger(os.Stdout, level)
}

// NewDiscardLogger returns a Logger that drops every record.
func NewDiscardLogger() *Logger {
	return newLogger(io.Discard, "panic")
}

func newLogger(out io.Writer, level string) *Logger {
	base := logrus.New()
	base.Out = out
	base.Formatter = &logrus.TextFormatter{FullTimestamp: true}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	base.Level = parsed

	return &Logger{entry: logrus.NewEntry(base).WithField("service", "lira")}
}

// With returns a Logger that adds the given key/value pairs to every
// record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{entry: l.entry.WithFields(fields(args))}
}

// Writer returns a writer that logs each line at info level.
func (l *Logger) Writer() *io.PipeWriter {
	return l.entry.Writer()
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) {
	l.entry.WithFields(fields(args)).Info(msg)
}

// Warn logs a warning.
func (l *Logger) Warn(msg string, args ...any) {
	l.entry.WithFields(fields(args)).Warn(msg)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.entry.WithFields(fields(args)).Error(msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.entry.WithFields(fields(args)).Debug(msg)
}

func fields(args []any) logrus.Fields {
	f := make(logrus.Fields, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 == len(args) {
			f["!BADKEY"] = args[i]
			break
		}
		f[key] = args[i+1]
	}
	return f
}
