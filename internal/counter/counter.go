package counter

import (
	"context"
	"log/slog"

	"tally/internal/logging"
)

// Options configures New.
type Options struct {
	// Async routes increments through a Pipeline instead of applying them
	// on the caller's goroutine.
	Async    bool
	Pipeline PipelineOptions
	Logger   *slog.Logger
}

// Counter records call outcomes per kind, day and category.
type Counter struct {
	policy   PathPolicy
	engine   *Engine
	pipeline *Pipeline
	logger   *slog.Logger
}

// New builds a Counter. In async mode it starts the drain worker, which
// Close stops.
func New(engine *Engine, policy PathPolicy, opts Options) *Counter {
	c := &Counter{
		policy: policy,
		engine: engine,
		logger: logging.OrDiscard(opts.Logger),
	}
	if opts.Async {
		if opts.Pipeline.Logger == nil {
			opts.Pipeline.Logger = opts.Logger
		}
		c.pipeline = NewPipeline(engine, opts.Pipeline)
	}
	return c
}

// Policy returns the path policy in use.
func (c *Counter) Policy() PathPolicy {
	return c.policy
}

// Pipeline returns the async pipeline, or nil in sync mode.
func (c *Counter) Pipeline() *Pipeline {
	return c.pipeline
}

// NoResponse counts calls that got no response.
func (c *Counter) NoResponse(ctx context.Context, delta int64, category string) error {
	return c.Add(ctx, NoResponse, delta, category)
}

// WrongContent counts calls that returned unusable content.
func (c *Counter) WrongContent(ctx context.Context, delta int64, category string) error {
	return c.Add(ctx, WrongContent, delta, category)
}

// Exception counts calls that failed with an error.
func (c *Counter) Exception(ctx context.Context, delta int64, category string) error {
	return c.Add(ctx, Exception, delta, category)
}

// Beyond counts calls rejected for exceeding their limit.
func (c *Counter) Beyond(ctx context.Context, delta int64, category string) error {
	return c.Add(ctx, Beyond, delta, category)
}

// ResponseSuccess counts successful calls for category, and once more per
// provided dimension.
func (c *Counter) ResponseSuccess(ctx context.Context, delta int64, category string, dims ...Dimension) error {
	return c.Add(ctx, ResponseSuccess, delta, category, dims...)
}

// Add records delta under today's kind/category path plus one path per
// dimension. Every path is validated before any increment is recorded.
func (c *Counter) Add(ctx context.Context, kind Kind, delta int64, category string, dims ...Dimension) error {
	day := c.policy.Today()
	paths := make([]string, 0, len(dims)+1)
	base, err := c.policy.Path(kind, day, category)
	if err != nil {
		return err
	}
	paths = append(paths, base)
	for _, dim := range dims {
		path, err := c.policy.Path(kind, day, category, dim)
		if err != nil {
			return err
		}
		paths = append(paths, path)
	}
	for _, path := range paths {
		if err := c.record(ctx, path, delta); err != nil {
			return err
		}
	}
	return nil
}

// Subtract removes delta from today's kind/category path.
func (c *Counter) Subtract(ctx context.Context, kind Kind, delta int64, category string) error {
	path, err := c.policy.Path(kind, c.policy.Today(), category)
	if err != nil {
		return err
	}
	if c.pipeline != nil {
		return c.pipeline.Enqueue(ctx, Event{Path: path, Delta: -delta})
	}
	_, err = c.engine.Subtract(ctx, path, delta)
	return err
}

func (c *Counter) record(ctx context.Context, path string, delta int64) error {
	if c.pipeline != nil {
		return c.pipeline.Enqueue(ctx, Event{Path: path, Delta: delta})
	}
	_, err := c.engine.Add(ctx, path, delta)
	return err
}

// Count reads one counter for day. Read failures, including a counter that
// was never written, yield -1.
func (c *Counter) Count(ctx context.Context, kind Kind, day, category string, dims ...Dimension) int64 {
	path, err := c.policy.Path(kind, day, category, dims...)
	if err != nil {
		c.logger.Error("read counter failed", "kind", kind, "day", day, "category", category, "error", err)
		return -1
	}
	return c.engine.Value(ctx, path)
}

// NoResponseCount reads the no-response counter for day.
func (c *Counter) NoResponseCount(ctx context.Context, day, category string) int64 {
	return c.Count(ctx, NoResponse, day, category)
}

// WrongContentCount reads the wrong-content counter for day.
func (c *Counter) WrongContentCount(ctx context.Context, day, category string) int64 {
	return c.Count(ctx, WrongContent, day, category)
}

// ResponseSuccessCount reads the success counter for day.
func (c *Counter) ResponseSuccessCount(ctx context.Context, day, category string) int64 {
	return c.Count(ctx, ResponseSuccess, day, category)
}

// ResponseSuccessForProduct reads the per-product success counter for day.
func (c *Counter) ResponseSuccessForProduct(ctx context.Context, day, category, productID string) int64 {
	return c.Count(ctx, ResponseSuccess, day, category, Product(productID))
}

// ResponseSuccessForTV reads the per-tv success counter for day.
func (c *Counter) ResponseSuccessForTV(ctx context.Context, day, category, tvID string) int64 {
	return c.Count(ctx, ResponseSuccess, day, category, TV(tvID))
}

// ExceptionCount reads the exception counter for day.
func (c *Counter) ExceptionCount(ctx context.Context, day, category string) int64 {
	return c.Count(ctx, Exception, day, category)
}

// BeyondCount reads the beyond-limit counter for day.
func (c *Counter) BeyondCount(ctx context.Context, day, category string) int64 {
	return c.Count(ctx, Beyond, day, category)
}

// NoResponseToday reads today's no-response counter.
func (c *Counter) NoResponseToday(ctx context.Context, category string) int64 {
	return c.NoResponseCount(ctx, c.policy.Today(), category)
}

// WrongContentToday reads today's wrong-content counter.
func (c *Counter) WrongContentToday(ctx context.Context, category string) int64 {
	return c.WrongContentCount(ctx, c.policy.Today(), category)
}

// ResponseSuccessToday reads today's success counter.
func (c *Counter) ResponseSuccessToday(ctx context.Context, category string) int64 {
	return c.ResponseSuccessCount(ctx, c.policy.Today(), category)
}

// ExceptionToday reads today's exception counter.
func (c *Counter) ExceptionToday(ctx context.Context, category string) int64 {
	return c.ExceptionCount(ctx, c.policy.Today(), category)
}

// BeyondToday reads today's beyond-limit counter.
func (c *Counter) BeyondToday(ctx context.Context, category string) int64 {
	return c.BeyondCount(ctx, c.policy.Today(), category)
}

// Close drains and stops the async pipeline. It is a no-op in sync mode.
func (c *Counter) Close(ctx context.Context) error {
	if c.pipeline == nil {
		return nil
	}
	return c.pipeline.Close(ctx)
}
