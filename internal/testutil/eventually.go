package testutil

import (
	"testing"
	"time"
)

// DefaultInterval is the polling interval used by Eventually callers.
const DefaultInterval = 5 * time.Millisecond

// Eventually polls fn until it returns true or timeout elapses.
func Eventually(t testing.TB, timeout, interval time.Duration, fn func() bool, msg string) {
	t.Helper()
	if interval <= 0 {
		interval = DefaultInterval
	}
	deadline := time.After(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if fn() {
			return
		}
		select {
		case <-deadline:
			if msg == "" {
				t.Fatalf("condition not met before timeout")
			}
			t.Fatalf("%s", msg)
		case <-ticker.C:
		}
	}
}

// Receive waits for one value from ch or fails the test after timeout.
func Receive[T any](t testing.TB, ch <-chan T, timeout time.Duration, msg string) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed", msg)
		}
		return v
	case <-time.After(timeout):
		t.Fatalf("%s: timed out after %s", msg, timeout)
	}
	var zero T
	return zero
}
