package stream

import (
	"testing"

	"go.uber.org/goleak"
)

// Every decoder goroutine must exit when its stream is closed or its
// context is cancelled; a leak here means an abandoned HTTP body reader.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		// The genai dependency pulls in opencensus, whose package init
		// starts a permanent stats worker.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}
