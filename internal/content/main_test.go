package content

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("github.com/samizdat-net/samizdat/internal/util.SafeGoWithName.func1"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}
