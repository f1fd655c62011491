// Package logging provides the structured logging infrastructure shared by every
// component of indexd. It wraps logrus with stream-aware output routing (errors
// to stderr, everything else to stdout) and a small context-field builder so
// components attach consistent keys (component, did, cursor, jobId, peer, ...)
// instead of writing free-form messages.
package logging

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stderr when they carry
// "level=error" (or higher) and to stdout otherwise, so container log
// collectors can treat the two streams differently.
type OutputSplitter struct{}

func (OutputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte("level=fatal")) || bytes.Contains(p, []byte("level=panic")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Base is the process-wide logger instance. Components should prefer
// acquiring a *Fields logger scoped to their name via New rather than
// logging directly against Base.
var Base = logrus.New()

func init() {
	Base.SetOutput(OutputSplitter{})
}

// Configure applies the closed set of log settings recognized by this
// service (level and format) to the base logger.
func Configure(level, format string) {
	switch level {
	case "debug":
		Base.SetLevel(logrus.DebugLevel)
	case "warn":
		Base.SetLevel(logrus.WarnLevel)
	case "error":
		Base.SetLevel(logrus.ErrorLevel)
	default:
		Base.SetLevel(logrus.InfoLevel)
	}

	if format == "json" {
		Base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// Fields is a reusable logger scoped to a fixed set of base fields (typically
// {"component": "blockwalk"}), so every call site doesn't have to repeat them.
type Fields struct {
	entry *logrus.Entry
}

// New returns a Fields logger tagged with the given component name.
func New(component string) *Fields {
	return &Fields{entry: Base.WithField("component", component)}
}

// With returns a derived logger carrying the additional fields.
func (f *Fields) With(kv logrus.Fields) *Fields {
	return &Fields{entry: f.entry.WithFields(kv)}
}

func (f *Fields) Debug(args ...interface{}) { f.entry.Debug(args...) }
func (f *Fields) Info(args ...interface{})  { f.entry.Info(args...) }
func (f *Fields) Warn(args ...interface{})  { f.entry.Warn(args...) }
func (f *Fields) Error(args ...interface{}) { f.entry.Error(args...) }

func (f *Fields) Debugf(format string, args ...interface{}) { f.entry.Debugf(format, args...) }
func (f *Fields) Infof(format string, args ...interface{})  { f.entry.Infof(format, args...) }
func (f *Fields) Warnf(format string, args ...interface{})  { f.entry.Warnf(format, args...) }
func (f *Fields) Errorf(format string, args ...interface{}) { f.entry.Errorf(format, args...) }
