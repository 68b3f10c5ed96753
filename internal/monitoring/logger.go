package monitoring

import (
	"fmt"
	"log"
	"sync"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Capture redirects Logf into the returned slice until restore is called.
// Intended for tests that assert on emitted diagnostics; read the slice only
// after the code under test has finished logging.
func Capture() (lines *[]string, restore func()) {
	prev := Logf
	var (
		mu  sync.Mutex
		out []string
	)
	Logf = func(format string, v ...interface{}) {
		line := fmt.Sprintf(format, v...)
		mu.Lock()
		out = append(out, line)
		mu.Unlock()
	}
	return &out, func() { Logf = prev }
}
