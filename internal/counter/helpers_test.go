package counter

import (
	"testing"
	"time"

	"tally/internal/coord"
	"tally/internal/coord/memory"
	"tally/internal/metrics"
	"tally/internal/testutil"
)

var testDay = time.Date(2017, time.January, 9, 12, 0, 0, 0, time.Local)

// newTestEngine wires an engine over an in-memory coordination service.
func newTestEngine(t *testing.T) (*Engine, *memory.Service, *metrics.Metrics) {
	t.Helper()
	svc := memory.New()
	m := metrics.New(nil, "")
	store := NewCoordStore(svc, coord.RetryNTimes{Attempts: 10, Sleep: time.Microsecond})
	engine := NewEngine(store, EngineOptions{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Metrics:        m,
	})
	return engine, svc, m
}

// testPolicy returns a path policy pinned to testDay.
func testPolicy() PathPolicy {
	return PathPolicy{
		Root:       "/tally/counters",
		NodePrefix: "api_call_atomic_counter_zookeeper_",
		Now:        testutil.NewFakeClock(testDay).Now,
	}
}

// stored decodes the value held at path, treating an absent node as zero.
func stored(t *testing.T, svc *memory.Service, path string) int64 {
	t.Helper()
	data, ok := svc.Data(path)
	if !ok {
		return 0
	}
	value, err := coord.DecodeValue(data)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return value
}

// runWithTimeout fails the test if fn does not finish before timeout.
func runWithTimeout(t *testing.T, timeout time.Duration, fn func()) {
	t.Helper()
	ctx := testutil.Context(t, timeout)
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatalf("test timed out")
	}
}

// closePipeline drains p and fails the test on timeout.
func closePipeline(t *testing.T, p *Pipeline) {
	t.Helper()
	if err := p.Close(testutil.Context(t, 5*time.Second)); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}
}
