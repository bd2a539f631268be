// Package logrus adapts a *logrus.Entry to querycache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/querycache"
)

var _ querycache.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New wraps l with a "component" field so cache lines can be filtered out.
func New(l *logrus.Logger, component string) LogrusLogger {
	if component == "" {
		component = "querycache"
	}
	return LogrusLogger{E: l.WithField("component", component)}
}

func (l LogrusLogger) Debug(msg string, f querycache.Fields) { l.with(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f querycache.Fields)  { l.with(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f querycache.Fields)  { l.with(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f querycache.Fields) { l.with(f).Error(msg) }

func (l LogrusLogger) with(f querycache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	if err, ok := f["err"].(error); ok {
		rest := make(logrus.Fields, len(f)-1)
		for k, v := range f {
			if k != "err" {
				rest[k] = v
			}
		}
		return l.E.WithError(err).WithFields(rest)
	}
	return l.E.WithFields(logrus.Fields(f))
}
