package counter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"tally/internal/metrics"
	"tally/internal/testutil"
)

// recordingApplier stores applied events in order and can fail or block on demand.
type recordingApplier struct {
	mu      sync.Mutex
	events  []Event
	failOn  string
	started chan struct{}
	release chan struct{}
}

func (r *recordingApplier) Add(ctx context.Context, path string, delta int64) (int64, error) {
	if r.started != nil {
		select {
		case r.started <- struct{}{}:
		default:
		}
	}
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if path == r.failOn {
		return 0, errors.New("boom")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Path: path, Delta: delta})
	return delta, nil
}

func (r *recordingApplier) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// TestPipelineDrainsToSum verifies the stored value equals every enqueued delta once drained.
func TestPipelineDrainsToSum(t *testing.T) {
	engine, svc, m := newTestEngine(t)
	p := NewPipeline(engine, PipelineOptions{Capacity: 64, Metrics: m})
	ctx := testutil.Context(t, 30*time.Second)
	path := "/tally/counters/async"

	var wg sync.WaitGroup
	var want int64
	var wantMu sync.Mutex
	for producer := 0; producer < 8; producer++ {
		wg.Add(1)
		go func(producer int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				delta := int64(producer + 1)
				if err := p.Enqueue(ctx, Event{Path: path, Delta: delta}); err != nil {
					t.Errorf("enqueue: %v", err)
					return
				}
				wantMu.Lock()
				want += delta
				wantMu.Unlock()
			}
		}(producer)
	}
	wg.Wait()
	closePipeline(t, p)

	if got := stored(t, svc, path); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
	if p.Applied() != 400 || p.Len() != 0 {
		t.Fatalf("expected 400 applied and an empty queue, got %d / %d", p.Applied(), p.Len())
	}
	if got := promtest.ToFloat64(m.EventsEnqueued); got != 400 {
		t.Fatalf("expected 400 enqueued, got %v", got)
	}
}

// TestPipelinePreservesProducerOrder verifies one producer's events apply in order.
func TestPipelinePreservesProducerOrder(t *testing.T) {
	applier := &recordingApplier{}
	p := NewPipeline(applier, PipelineOptions{Capacity: 4})
	ctx := testutil.Context(t, 0)
	for i := 1; i <= 100; i++ {
		if err := p.Enqueue(ctx, Event{Path: "/c", Delta: int64(i)}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	closePipeline(t, p)
	events := applier.snapshot()
	if len(events) != 100 {
		t.Fatalf("expected 100 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Delta != int64(i+1) {
			t.Fatalf("event %d out of order: %+v", i, ev)
		}
	}
}

// TestPipelineSkipsFailedEvents verifies a failing event does not stop the worker.
func TestPipelineSkipsFailedEvents(t *testing.T) {
	applier := &recordingApplier{failOn: "/bad"}
	m := metrics.New(nil, "")
	p := NewPipeline(applier, PipelineOptions{Capacity: 8, Metrics: m})
	ctx := testutil.Context(t, 0)
	for _, path := range []string{"/a", "/bad", "/b"} {
		if err := p.Enqueue(ctx, Event{Path: path, Delta: 1}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	closePipeline(t, p)
	if p.Applied() != 2 || p.Failed() != 1 {
		t.Fatalf("expected 2 applied / 1 failed, got %d / %d", p.Applied(), p.Failed())
	}
	if got := promtest.ToFloat64(m.EventsFailed); got != 1 {
		t.Fatalf("expected failed metric 1, got %v", got)
	}
}

// TestPipelineEnqueueBlocksWhenFull verifies a full queue applies backpressure instead of dropping.
func TestPipelineEnqueueBlocksWhenFull(t *testing.T) {
	applier := &recordingApplier{started: make(chan struct{}, 1), release: make(chan struct{})}
	p := NewPipeline(applier, PipelineOptions{Capacity: 1})
	ctx := testutil.Context(t, 0)

	if err := p.Enqueue(ctx, Event{Path: "/c", Delta: 1}); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	testutil.Receive(t, applier.started, time.Second, "worker did not pick up the first event")
	if err := p.Enqueue(ctx, Event{Path: "/c", Delta: 2}); err != nil {
		t.Fatalf("enqueue second: %v", err)
	}

	short, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := p.Enqueue(short, Event{Path: "/c", Delta: 3}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected enqueue to block until deadline, got %v", err)
	}

	close(applier.release)
	closePipeline(t, p)
	if got := applier.snapshot(); len(got) != 2 {
		t.Fatalf("expected 2 applied events, got %+v", got)
	}
}

// TestPipelineEnqueueAfterClose verifies closed pipelines reject events.
func TestPipelineEnqueueAfterClose(t *testing.T) {
	p := NewPipeline(&recordingApplier{}, PipelineOptions{Capacity: 1})
	closePipeline(t, p)
	if err := p.Enqueue(context.Background(), Event{Path: "/c", Delta: 1}); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("expected ErrPipelineClosed, got %v", err)
	}
	closePipeline(t, p)
}

// TestPipelineCloseUnblocksWaitingProducer verifies Close releases producers stuck on a full queue.
func TestPipelineCloseUnblocksWaitingProducer(t *testing.T) {
	applier := &recordingApplier{started: make(chan struct{}, 1), release: make(chan struct{})}
	p := NewPipeline(applier, PipelineOptions{Capacity: 1})
	ctx := testutil.Context(t, 0)
	if err := p.Enqueue(ctx, Event{Path: "/c", Delta: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	testutil.Receive(t, applier.started, time.Second, "worker did not start")
	if err := p.Enqueue(ctx, Event{Path: "/c", Delta: 2}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- p.Enqueue(ctx, Event{Path: "/c", Delta: 3})
	}()

	closed := make(chan error, 1)
	go func() {
		closed <- p.Close(ctx)
	}()
	if err := testutil.Receive(t, blocked, time.Second, "producer stayed blocked"); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("expected ErrPipelineClosed, got %v", err)
	}
	close(applier.release)
	if err := testutil.Receive(t, closed, time.Second, "close did not return"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := applier.snapshot(); len(got) != 2 {
		t.Fatalf("queued events must drain on close, got %+v", got)
	}
}

// TestPipelineCloseTimeoutDropsRemaining verifies a bounded Close abandons what it cannot apply.
func TestPipelineCloseTimeoutDropsRemaining(t *testing.T) {
	applier := &recordingApplier{release: make(chan struct{})}
	m := metrics.New(nil, "")
	p := NewPipeline(applier, PipelineOptions{Capacity: 8, Metrics: m})
	ctx := testutil.Context(t, 0)
	for i := 0; i < 5; i++ {
		if err := p.Enqueue(ctx, Event{Path: "/c", Delta: 1}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	short, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := p.Close(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if p.Dropped() != 5 || p.Applied() != 0 {
		t.Fatalf("expected 5 dropped and none applied, got %d / %d", p.Dropped(), p.Applied())
	}
	if got := promtest.ToFloat64(m.EventsDropped); got != 5 {
		t.Fatalf("expected dropped metric 5, got %v", got)
	}
}
