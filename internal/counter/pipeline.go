package counter

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.uber.org/atomic"

	"tally/internal/logging"
	"tally/internal/metrics"
)

// ErrPipelineClosed is returned by Enqueue after Close has started.
var ErrPipelineClosed = errors.New("counter pipeline closed")

// Event is one pending increment.
type Event struct {
	Path  string
	Delta int64
}

// Applier applies one increment; *Engine satisfies it.
type Applier interface {
	Add(ctx context.Context, path string, delta int64) (int64, error)
}

// PipelineOptions configures NewPipeline.
type PipelineOptions struct {
	Capacity int
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Pipeline is a bounded FIFO of increments drained by a single worker.
// Enqueue blocks while the queue is full.
type Pipeline struct {
	applier Applier
	events  chan Event
	closing chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc

	// mu is held for reading by senders and for writing while events is
	// closed, so no send races the close.
	mu        sync.RWMutex
	closed    atomic.Bool
	closeOnce sync.Once

	applied atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPipeline starts the drain worker.
func NewPipeline(applier Applier, opts PipelineOptions) *Pipeline {
	if opts.Capacity <= 0 {
		opts.Capacity = 1
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil, "")
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		applier: applier,
		events:  make(chan Event, opts.Capacity),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		cancel:  cancel,
		logger:  logging.OrDiscard(opts.Logger),
		metrics: opts.Metrics,
	}
	go p.run(ctx)
	return p
}

// Enqueue adds ev to the queue, waiting for space. It fails only when the
// pipeline is closing or ctx ends first.
func (p *Pipeline) Enqueue(ctx context.Context, ev Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return ErrPipelineClosed
	}
	select {
	case p.events <- ev:
		p.metrics.EventsEnqueued.Inc()
		p.metrics.QueueDepth.Set(float64(len(p.events)))
		return nil
	case <-p.closing:
		return ErrPipelineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of queued events.
func (p *Pipeline) Len() int {
	return len(p.events)
}

// Applied returns the number of events the worker applied.
func (p *Pipeline) Applied() int64 {
	return p.applied.Load()
}

// Failed returns the number of events the worker logged and skipped.
func (p *Pipeline) Failed() int64 {
	return p.failed.Load()
}

// Dropped returns the number of events abandoned by a timed out Close.
func (p *Pipeline) Dropped() int64 {
	return p.dropped.Load()
}

// Close stops accepting events and waits for the queue to drain. If ctx
// ends first the worker stops applying, the rest of the queue is dropped
// and ctx's error is returned.
func (p *Pipeline) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.closing)
		p.mu.Lock()
		close(p.events)
		p.mu.Unlock()
	})
	select {
	case <-p.done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-p.done
		p.logger.Error("counter pipeline closed before draining",
			"dropped", p.dropped.Load(), "error", ctx.Err())
		return ctx.Err()
	}
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	for ev := range p.events {
		p.metrics.QueueDepth.Set(float64(len(p.events)))
		if ctx.Err() != nil {
			p.drop()
			continue
		}
		if _, err := p.applier.Add(ctx, ev.Path, ev.Delta); err != nil {
			if ctx.Err() != nil {
				p.drop()
				continue
			}
			p.failed.Inc()
			p.metrics.EventsFailed.Inc()
			p.logger.Error("skipping increment", "path", ev.Path, "delta", ev.Delta, "error", err)
			continue
		}
		p.applied.Inc()
		p.metrics.EventsApplied.Inc()
	}
}

func (p *Pipeline) drop() {
	p.dropped.Inc()
	p.metrics.EventsDropped.Inc()
}
