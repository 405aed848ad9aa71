package limits

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/atomic"

	"tally/internal/coord"
	"tally/internal/metrics"
)

// State is the lifecycle position of a Subscription.
type State int32

const (
	// StateIdle means the subscription is not running.
	StateIdle State = iota
	// StateArmed means exactly one watch is outstanding.
	StateArmed
	// StateFired means a notification arrived and is being handled.
	StateFired
	// StateRearming means the watch is being registered again.
	StateRearming
	// StateLost means registration failed repeatedly; the supervisor
	// restarts lost subscriptions.
	StateLost
)

// States lists every state in order.
func States() []State {
	return []State{StateIdle, StateArmed, StateFired, StateRearming, StateLost}
}

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateFired:
		return "fired"
	case StateRearming:
		return "rearming"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// rearmPolicy bounds consecutive registration attempts.
type rearmPolicy struct {
	attempts uint
	initial  time.Duration
	max      time.Duration
}

// Subscription keeps one category's cache entry in step with its node. Each
// watch is one-shot: the subscription reads and re-registers with a single
// GetW so no change between the two is missed.
type Subscription struct {
	category string
	path     string
	client   coord.Client
	cache    *Cache
	policy   rearmPolicy
	onChange func(category string, limit int64)
	logger   *slog.Logger
	metrics  *metrics.Metrics

	state atomic.Int32

	mu      sync.Mutex
	running bool
}

// newSubscription builds an idle subscription.
func newSubscription(category, path string, client coord.Client, cache *Cache, policy rearmPolicy,
	onChange func(string, int64), logger *slog.Logger, m *metrics.Metrics) *Subscription {
	s := &Subscription{
		category: category,
		path:     path,
		client:   client,
		cache:    cache,
		policy:   policy,
		onChange: onChange,
		logger:   logger.With("category", category, "path", path),
		metrics:  m,
	}
	m.Subscriptions.WithLabelValues(StateIdle.String()).Inc()
	return s
}

// Category returns the subscribed category.
func (s *Subscription) Category() string {
	return s.category
}

// State returns the current state.
func (s *Subscription) State() State {
	return State(s.state.Load())
}

func (s *Subscription) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev == next {
		return
	}
	s.metrics.Subscriptions.WithLabelValues(prev.String()).Dec()
	s.metrics.Subscriptions.WithLabelValues(next.String()).Inc()
}

// start launches the watch loop unless it is already running.
func (s *Subscription) start(ctx context.Context, wg *sync.WaitGroup) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.setState(StateRearming)
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.finish(s.run(ctx))
	}()
	return true
}

// finish records how the loop ended.
func (s *Subscription) finish(final State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.setState(final)
}

// run arms, waits, handles and re-arms until ctx ends or re-arming is
// exhausted. It returns the state to settle in.
func (s *Subscription) run(ctx context.Context) State {
	for {
		events, err := s.rearm(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return StateIdle
			}
			s.logger.Error("limit watch lost", "attempts", s.policy.attempts, "error", err)
			return StateLost
		}
		s.setState(StateArmed)

		select {
		case <-ctx.Done():
			return StateIdle
		case ev, ok := <-events:
			s.setState(StateFired)
			s.metrics.WatchFirings.WithLabelValues(s.category).Inc()
			if ok {
				s.handle(ev)
			}
			s.setState(StateRearming)
		}
	}
}

// handle logs notifications that need more than a re-read.
func (s *Subscription) handle(ev coord.Event) {
	switch ev.Type {
	case coord.EventNodeDeleted:
		s.logger.Warn("limit node deleted, keeping cached limit", "limit", s.cache.Limit(s.category))
	case coord.EventNotWatching:
		s.logger.Warn("limit watch dropped by coordination client", "error", ev.Err)
	}
}

// rearm registers the next watch and applies the value read with it.
func (s *Subscription) rearm(ctx context.Context) (<-chan coord.Event, error) {
	policy := &backoff.ExponentialBackOff{
		InitialInterval:     s.policy.initial,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         s.policy.max,
	}
	return backoff.Retry(ctx, func() (<-chan coord.Event, error) {
		events, err := s.arm(ctx)
		if err == nil {
			return events, nil
		}
		s.metrics.WatchRearmFailures.Inc()
		s.logger.Warn("limit watch registration failed", "error", err)
		if errors.Is(err, coord.ErrClosed) || ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(s.policy.attempts),
		backoff.WithMaxElapsedTime(0),
	)
}

// arm performs one registration. A missing node gets an existence watch
// so its creation is noticed.
func (s *Subscription) arm(ctx context.Context) (<-chan coord.Event, error) {
	data, _, events, err := s.client.GetW(ctx, s.path)
	if errors.Is(err, coord.ErrNoNode) {
		_, _, events, err = s.client.ExistsW(ctx, s.path)
		return events, err
	}
	if err != nil {
		return nil, err
	}
	s.observe(data)
	return events, nil
}

// observe stores a readable value. Blank or invalid data leaves the cache
// untouched.
func (s *Subscription) observe(data []byte) {
	limit, blank, err := DecodeLimit(data)
	switch {
	case blank:
		return
	case err != nil:
		s.logger.Error("ignoring invalid limit", "error", err)
		return
	}
	previous, existed := s.cache.Store(s.category, limit)
	if existed && previous == limit {
		return
	}
	s.logger.Info("limit changed", "previous", previous, "limit", limit)
	if s.onChange != nil {
		s.onChange(s.category, limit)
	}
}
