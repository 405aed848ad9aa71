package counter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"tally/internal/coord"
	"tally/internal/logging"
	"tally/internal/metrics"
)

// errConflict marks an attempt whose bounded optimistic retries all lost.
var errConflict = errors.New("optimistic increment exhausted its retries")

// EngineOptions configures NewEngine.
type EngineOptions struct {
	// InitialBackoff and MaxBackoff bound the delay between failed attempts.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// HandleCacheSize bounds the handle cache; zero means unbounded.
	HandleCacheSize int
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

// Engine applies deltas to stored counters, retrying until each lands.
type Engine struct {
	store   Store
	handles *HandleCache
	initial time.Duration
	max     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewEngine builds an engine over store.
func NewEngine(store Store, opts EngineOptions) *Engine {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 10 * time.Millisecond
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil, "")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:   store,
		handles: NewHandleCache(store, opts.HandleCacheSize, opts.Metrics),
		initial: opts.InitialBackoff,
		max:     opts.MaxBackoff,
		logger:  logging.OrDiscard(opts.Logger),
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// Handles exposes the engine's handle cache.
func (e *Engine) Handles() *HandleCache {
	return e.handles
}

// Add applies delta to path and returns the value it produced. Transient
// failures are retried with backoff for as long as ctx allows; only
// permanent failures such as a malformed stored value are returned.
func (e *Engine) Add(ctx context.Context, path string, delta int64) (int64, error) {
	return e.apply(ctx, "add", path, delta, delta, Atomic.Add)
}

// Subtract applies -delta to path.
func (e *Engine) Subtract(ctx context.Context, path string, delta int64) (int64, error) {
	return e.apply(ctx, "subtract", path, delta, -delta, Atomic.Subtract)
}

// Value reads path through a fresh binding. Any failure, including a
// missing path, is logged and reported as -1. Reads are not retried.
func (e *Engine) Value(ctx context.Context, path string) int64 {
	result, err := e.store.Handle(path).Get(ctx)
	if err != nil {
		e.logger.Error("read counter failed", "path", path, "error", err)
		return -1
	}
	if !result.Succeeded {
		e.logger.Error("read counter failed", "path", path)
		return -1
	}
	return result.PostValue
}

type applyFunc func(Atomic, context.Context, int64) (coord.AtomicValue, error)

// apply retries fn until it succeeds. signed is delta as it lands on the
// counter; keyed handles get it under one id for every attempt.
func (e *Engine) apply(ctx context.Context, op, path string, delta, signed int64, fn applyFunc) (int64, error) {
	if err := coord.ValidatePath(path); err != nil {
		return 0, err
	}
	handle := e.handles.Get(path)
	call := func() (coord.AtomicValue, error) { return fn(handle, ctx, delta) }
	if once, ok := handle.(OnceAtomic); ok {
		id := uuid.New()
		call = func() (coord.AtomicValue, error) { return once.AddOnce(ctx, id, signed) }
	}
	streak := 0

	attempt := func() (int64, error) {
		if err := e.store.EnsurePath(ctx, path); err != nil {
			return 0, e.classify(ctx, err)
		}
		result, err := call()
		if err != nil {
			return 0, e.classify(ctx, err)
		}
		if !result.Succeeded {
			e.metrics.IncrementAttempts.WithLabelValues("conflict").Inc()
			return 0, errConflict
		}
		e.metrics.IncrementAttempts.WithLabelValues("ok").Inc()
		return result.PostValue, nil
	}

	policy := &backoff.ExponentialBackOff{
		InitialInterval:     e.initial,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         e.max,
	}
	value, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			streak++
			e.metrics.RetryStreak.Set(float64(streak))
			e.logger.Warn("increment attempt failed",
				"op", op, "path", path, "delta", delta,
				"attempt", streak, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("%s %d to %s: %w", op, delta, path, err)
	}
	e.metrics.RetryStreak.Set(0)
	e.metrics.LastApplySuccess.Set(float64(e.now().Unix()))
	return value, nil
}

// classify counts a failed attempt and marks failures that retrying
// cannot fix as permanent.
func (e *Engine) classify(ctx context.Context, err error) error {
	e.metrics.IncrementAttempts.WithLabelValues("error").Inc()
	switch {
	case ctx.Err() != nil:
		return backoff.Permanent(err)
	case errors.Is(err, coord.ErrMalformedValue), errors.Is(err, coord.ErrClosed):
		return backoff.Permanent(err)
	default:
		return err
	}
}
