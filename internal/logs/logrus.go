package logs

import (
	"context"
	"github.com/sirupsen/logrus"
)

type ctxFieldsKey struct{}

// WithFields attach fields to ctx, the logrus logger adds them to every entry logged with ctx
func WithFields(ctx context.Context, fields logrus.Fields) context.Context {
	merged := logrus.Fields{}
	if existing, ok := ctx.Value(ctxFieldsKey{}).(logrus.Fields); ok {
		for k, v := range existing {
			merged[k] = v
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, ctxFieldsKey{}, merged)
}

type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger adapt a logrus entry to Logger
func NewLogrusLogger(entry *logrus.Entry) Logger {
	return &logrusLogger{entry: entry}
}

func (l *logrusLogger) with(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return l.entry
	}
	if fields, ok := ctx.Value(ctxFieldsKey{}).(logrus.Fields); ok {
		return l.entry.WithFields(fields)
	}
	return l.entry
}

func (l *logrusLogger) Debug(ctx context.Context, msg string, args ...interface{}) {
	l.with(ctx).Debugf(msg, args...)
}

func (l *logrusLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	l.with(ctx).Infof(msg, args...)
}

func (l *logrusLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	l.with(ctx).Warnf(msg, args...)
}

func (l *logrusLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	l.with(ctx).Errorf(msg, args...)
}

// LogrusLevel map a LogLevel to the logrus level
func LogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case Debug:
		return logrus.DebugLevel
	case Warn:
		return logrus.WarnLevel
	case Error:
		return logrus.ErrorLevel
	}
	return logrus.InfoLevel
}
