// Package obslog wraps the logxi structured logger with host and run context
// that every component in the gateway wants attached to its log lines.
package obslog

import (
	"os"
	"sync"

	logxi "github.com/karlmutch/logxi/v1"
)

var hostName string

func init() {
	hostName, _ = os.Hostname()
}

// Logger adorns a logxi logger with a fixed "host" tag and an optional
// component label, matching the teacher's pkg/studio logging wrapper.
type Logger struct {
	log logxi.Logger
	sync.Mutex
}

// New instantiates a wrapper logger tagged with a component name, for
// example "orchestrator" or "store".
func New(component string) (l *Logger) {
	logxi.DisableCallstack()

	return &Logger{
		log: logxi.New(component),
	}
}

func withHost(args []interface{}) []interface{} {
	allArgs := append([]interface{}{}, args...)
	return append(allArgs, "host", hostName)
}

// Debug emits a debug level message with a varargs key/value tail.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.Lock()
	defer l.Unlock()
	l.log.Debug(msg, withHost(args)...)
}

// Info emits an informational level message with a varargs key/value tail.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.Lock()
	defer l.Unlock()
	l.log.Info(msg, withHost(args)...)
}

// Warn emits a warning level message with a varargs key/value tail.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.Lock()
	defer l.Unlock()
	_ = l.log.Warn(msg, withHost(args)...)
}

// Error emits an error level message with a varargs key/value tail.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.Lock()
	defer l.Unlock()
	_ = l.log.Error(msg, withHost(args)...)
}

// WithRun returns a derived logger that tags every line with a run id. The
// underlying logxi logger is shared; only the convenience prefix differs.
func (l *Logger) WithRun(runID string) *RunLogger {
	return &RunLogger{parent: l, runID: runID}
}

// RunLogger is a Logger scoped to a single run, so call sites in the
// orchestrator and sandbox packages don't have to repeat "runId" on every
// call.
type RunLogger struct {
	parent *Logger
	runID  string
}

func (r *RunLogger) args(args []interface{}) []interface{} {
	return append([]interface{}{"runId", r.runID}, args...)
}

func (r *RunLogger) Debug(msg string, args ...interface{}) { r.parent.Debug(msg, r.args(args)...) }
func (r *RunLogger) Info(msg string, args ...interface{})  { r.parent.Info(msg, r.args(args)...) }
func (r *RunLogger) Warn(msg string, args ...interface{})  { r.parent.Warn(msg, r.args(args)...) }
func (r *RunLogger) Error(msg string, args ...interface{}) { r.parent.Error(msg, r.args(args)...) }
