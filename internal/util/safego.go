package util

import (
	"runtime/debug"

	"github.com/samizdat-net/samizdat/internal/logging"
)

// SafeGo spawns fn on a goroutine that logs a recovered panic with its
// stack instead of killing the daemon. Long-lived background work
// (seeder watch loop, bootstrap poll, socket accept loop) must go
// through this rather than a bare go statement.
func SafeGo(fn func()) {
	go runRecovered("", fn)
}

// SafeGoWithName is SafeGo with a goroutine label carried into the
// panic log.
func SafeGoWithName(name string, fn func()) {
	go runRecovered(name, fn)
}

func runRecovered(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			attrs := []any{"panic", r, "stack", string(debug.Stack())}
			if name != "" {
				attrs = append(attrs, "goroutine", name)
			}
			logging.Error("goroutine panic recovered", attrs...)
		}
	}()
	fn()
}
