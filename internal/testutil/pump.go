package testutil

import (
	"testing"
	"time"
)

// PumpUntil calls step (usually one dispatcher iteration) until cond holds
// or timeout elapses. Replaces time.Sleep based synchronisation for tests
// that drive a cooperative event loop on the test goroutine.
func PumpUntil(t testing.TB, timeout time.Duration, step func(), cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		step()
		time.Sleep(time.Millisecond)
	}
}

// PumpFor calls step repeatedly for d, regardless of any condition.
func PumpFor(d time.Duration, step func()) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		step()
		time.Sleep(time.Millisecond)
	}
}
