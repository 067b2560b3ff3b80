package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var debugEnabled atomic.Bool

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug toggles the Debugf stream. Debug output is off by default.
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

// Debugf logs through the package logger only when debug output is enabled.
func Debugf(format string, v ...interface{}) {
	if debugEnabled.Load() {
		Logf(format, v...)
	}
}
