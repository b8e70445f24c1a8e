// Package logger provides structured logging for the gateway, backed by
// logrus. Every request carries a correlation id in its context; loggers
// obtained through FromContext stamp it on each entry so one request's
// lines can be pulled out of interleaved streaming traffic.
package logger

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"claude-gateway/internal"
)

// Logger defines the logging interface used across the gateway.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithModel(model string) Logger
}

var base = logrus.New()

// Init configures the process-wide logrus backend. levelName comes from the
// LOG_LEVEL environment variable; unknown values fall back to info.
func Init(levelName string) {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	level, err := logrus.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)
}

type entryLogger struct {
	entry *logrus.Entry
}

// New returns a logger with no request context attached.
func New() Logger {
	return &entryLogger{entry: logrus.NewEntry(base)}
}

// FromContext returns a logger stamped with the context's request id.
func FromContext(ctx context.Context) Logger {
	entry := logrus.NewEntry(base)
	if requestID := internal.GetRequestID(ctx); requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}
	return &entryLogger{entry: entry}
}

func (l *entryLogger) WithField(key string, value interface{}) Logger {
	return &entryLogger{entry: l.entry.WithField(key, value)}
}

func (l *entryLogger) WithModel(model string) Logger {
	return &entryLogger{entry: l.entry.WithField("model", model)}
}

func (l *entryLogger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *entryLogger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *entryLogger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *entryLogger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}
