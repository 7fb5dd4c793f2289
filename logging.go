package kademlia

import (
	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
)

// componentLogger provides standardized structured logging for a single
// package component (bucket, router, dht, node, ...), mirroring the
// LoggerHelper pattern used throughout the teacher's crypto package.
type componentLogger struct {
	component string
	fields    logrus.Fields
}

// newComponentLogger returns a logger tagged with component.
func newComponentLogger(component string) *componentLogger {
	return &componentLogger{
		component: component,
		fields:    logrus.Fields{"component": component},
	}
}

// withField returns a copy of l with an additional field attached,
// leaving l itself untouched so call sites can fan out per-call fields
// from a shared base logger.
func (l *componentLogger) withField(key string, value interface{}) *componentLogger {
	fields := make(logrus.Fields, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &componentLogger{component: l.component, fields: fields}
}

func (l *componentLogger) debug(msg string) {
	logrus.WithFields(l.fields).Debug(msg)
}

func (l *componentLogger) info(msg string) {
	logrus.WithFields(l.fields).Info(msg)
}

func (l *componentLogger) warn(msg string) {
	logrus.WithFields(l.fields).Warn(msg)
}

func (l *componentLogger) errorf(err error, msg string) {
	logrus.WithFields(l.fields).WithError(err).Error(msg)
}

// debugDump logs a spew dump of value at debug level, for the cases
// (bucket splits, eviction decisions) where a field-by-field log entry
// would be too lossy to debug from.
func (l *componentLogger) debugDump(label string, value interface{}) {
	if !logrus.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	logrus.WithFields(l.fields).Debugf("%s:\n%s", label, spew.Sdump(value))
}
