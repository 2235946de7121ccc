// Package logging carries the component-tag wrapper used by every package
// that writes to the process log.
package logging

import "github.com/cyclopcam/logs"

// PrefixLogger writes to the underlying log, with every message prefixed by a component tag
type PrefixLogger struct {
	Log    logs.Log
	Prefix string
}

// NewPrefixLogger wraps log so that every line starts with "[component] "
func NewPrefixLogger(log logs.Log, component string) *PrefixLogger {
	return &PrefixLogger{
		Log:    log,
		Prefix: "[" + component + "] ",
	}
}

// Component returns a logger for component, tolerating a nil root log
func Component(log logs.Log, component string) logs.Log {
	if log == nil {
		return Discard{}
	}
	return NewPrefixLogger(log, component)
}

func (l *PrefixLogger) Close() {
	l.Log.Close()
}

func (l *PrefixLogger) Debugf(format string, a ...interface{}) {
	l.Log.Debugf(l.Prefix+format, a...)
}

func (l *PrefixLogger) Infof(format string, a ...interface{}) {
	l.Log.Infof(l.Prefix+format, a...)
}

func (l *PrefixLogger) Warnf(format string, a ...interface{}) {
	l.Log.Warnf(l.Prefix+format, a...)
}

func (l *PrefixLogger) Errorf(format string, a ...interface{}) {
	l.Log.Errorf(l.Prefix+format, a...)
}

func (l *PrefixLogger) Criticalf(format string, a ...interface{}) {
	l.Log.Criticalf(l.Prefix+format, a...)
}

// Discard drops everything
type Discard struct{}

func (Discard) Close()                                    {}
func (Discard) Debugf(format string, a ...interface{})    {}
func (Discard) Infof(format string, a ...interface{})     {}
func (Discard) Warnf(format string, a ...interface{})     {}
func (Discard) Errorf(format string, a ...interface{})    {}
func (Discard) Criticalf(format string, a ...interface{}) {}

var _ logs.Log = (*PrefixLogger)(nil)
var _ logs.Log = Discard{}
