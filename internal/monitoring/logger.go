// Package monitoring holds the process-wide diagnostic loggers shared by the
// indexer packages.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger so tests can capture or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Warnf logs through Logf with a "warning: " prefix. Non-fatal conditions such
// as unresolved detector labels are reported this way.
func Warnf(format string, v ...interface{}) {
	Logf("warning: "+format, v...)
}
