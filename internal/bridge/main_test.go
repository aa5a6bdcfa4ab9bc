package bridge

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Background goroutines spawned via util.SafeGoWithName may
		// still be shutting down when goleak checks after completion.
		goleak.IgnoreAnyFunction("github.com/samizdat-net/samizdat/internal/util.SafeGoWithName.func1"),
		// Mock runtime sockets spawn poller goroutines that may not
		// fully drain before test cleanup.
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}
