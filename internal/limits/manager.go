package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"tally/internal/config"
	"tally/internal/coord"
	"tally/internal/logging"
	"tally/internal/metrics"
)

// Options configures NewManager.
type Options struct {
	Root string
	// RearmAttempts bounds consecutive failed registrations before a
	// subscription is lost.
	RearmAttempts int
	RearmInitial  time.Duration
	RearmMax      time.Duration
	// SupervisorInterval is how often lost subscriptions are restarted.
	// Zero disables the supervisor.
	SupervisorInterval time.Duration
	// OnChange is called from the subscription goroutine whenever a watch
	// observes a new limit.
	OnChange func(category string, limit int64)
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Manager owns the limit cache and one watch subscription per category.
type Manager struct {
	client  coord.Client
	root    string
	cache   *Cache
	policy  rearmPolicy
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	subs   map[string]*Subscription
}

// NewManager builds a manager and starts its supervisor.
func NewManager(client coord.Client, opts Options) *Manager {
	if opts.Root == "" {
		opts.Root = "/"
	}
	if opts.RearmAttempts <= 0 {
		opts.RearmAttempts = 5
	}
	if opts.RearmInitial <= 0 {
		opts.RearmInitial = 50 * time.Millisecond
	}
	if opts.RearmMax < opts.RearmInitial {
		opts.RearmMax = 2 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil, "")
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		client: client,
		root:   opts.Root,
		cache:  NewCache(opts.Metrics),
		policy: rearmPolicy{
			attempts: uint(opts.RearmAttempts),
			initial:  opts.RearmInitial,
			max:      opts.RearmMax,
		},
		opts:    opts,
		logger:  logging.OrDiscard(opts.Logger),
		metrics: opts.Metrics,
		ctx:     ctx,
		cancel:  cancel,
		subs:    map[string]*Subscription{},
	}
	if opts.SupervisorInterval > 0 {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.supervise(ctx, opts.SupervisorInterval)
		}()
	}
	return m
}

// Cache exposes the limit cache.
func (m *Manager) Cache() *Cache {
	return m.cache
}

// Limit returns the current limit for category, or Unbounded.
func (m *Manager) Limit(category string) int64 {
	return m.cache.Limit(category)
}

// Limits lists cached limits, largest first.
func (m *Manager) Limits() []Entry {
	return m.cache.Snapshot()
}

// Bootstrap seeds every configured category and subscribes to it. A stored
// value always wins over the configured default. Failures are logged and
// returned together; the remaining categories are still bootstrapped.
func (m *Manager) Bootstrap(ctx context.Context, defaults []config.CategoryLimit) error {
	var errs []error
	for _, d := range defaults {
		path, err := Path(m.root, d.Category)
		if err != nil {
			m.logger.Error("skipping limit category", "category", d.Category, "error", err)
			errs = append(errs, err)
			continue
		}
		if err := m.seed(ctx, d, path); err != nil {
			m.logger.Error("limit bootstrap failed", "category", d.Category, "path", path, "error", err)
			errs = append(errs, fmt.Errorf("bootstrap %s: %w", d.Category, err))
		}
		m.subscribe(d.Category, path)
	}
	return errors.Join(errs...)
}

// seed writes the default when the node is blank, otherwise adopts the
// stored value.
func (m *Manager) seed(ctx context.Context, d config.CategoryLimit, path string) error {
	if err := m.client.EnsurePath(ctx, path); err != nil {
		return err
	}
	data, stat, err := m.client.Get(ctx, path)
	if err != nil {
		return err
	}
	stored, blank, err := DecodeLimit(data)
	switch {
	case err != nil:
		m.logger.Error("stored limit is invalid, not seeding", "category", d.Category, "error", err)
		return nil
	case !blank:
		m.cache.Store(d.Category, stored)
		m.logger.Info("adopted stored limit", "category", d.Category, "limit", stored, "default", d.Limit)
		return nil
	}

	_, err = m.client.Set(ctx, path, EncodeLimit(d.Limit), stat.Version)
	if errors.Is(err, coord.ErrBadVersion) {
		// Another process wrote first; its value is authoritative.
		data, _, err = m.client.Get(ctx, path)
		if err != nil {
			return err
		}
		stored, blank, err = DecodeLimit(data)
		if err != nil || blank {
			m.logger.Error("concurrently written limit is unusable", "category", d.Category, "error", err)
			return nil
		}
		m.cache.Store(d.Category, stored)
		m.logger.Info("adopted concurrently written limit", "category", d.Category, "limit", stored)
		return nil
	}
	if err != nil {
		return err
	}
	m.cache.Store(d.Category, d.Limit)
	m.logger.Info("seeded default limit", "category", d.Category, "limit", d.Limit)
	return nil
}

// SetLimit writes limit to category's node. The cache is not updated
// directly: the new value arrives through the category's watch, which is
// created here if the category was never subscribed.
func (m *Manager) SetLimit(ctx context.Context, category string, limit int64) bool {
	path, err := Path(m.root, category)
	if err != nil {
		m.logger.Error("set limit rejected", "category", category, "error", err)
		return false
	}
	m.logger.Info("setting limit", "category", category, "current", m.Limit(category), "limit", limit)
	if err := m.client.EnsurePath(ctx, path); err != nil {
		m.logger.Error("set limit failed", "category", category, "limit", limit, "error", err)
		return false
	}
	if _, err := m.client.Set(ctx, path, EncodeLimit(limit), coord.AnyVersion); err != nil {
		m.logger.Error("set limit failed", "category", category, "limit", limit, "error", err)
		return false
	}
	m.subscribe(category, path)
	return true
}

// subscribe starts category's subscription once.
func (m *Manager) subscribe(category, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if _, ok := m.subs[category]; ok {
		return
	}
	sub := newSubscription(category, path, m.client, m.cache, m.policy, m.opts.OnChange, m.logger, m.metrics)
	m.subs[category] = sub
	sub.start(m.ctx, &m.wg)
}

// Subscriptions reports the state of every subscription by category.
func (m *Manager) Subscriptions() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.subs))
	for category, sub := range m.subs {
		out[category] = sub.State()
	}
	return out
}

// Categories lists subscribed categories in order.
func (m *Manager) Categories() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subs))
	for category := range m.subs {
		out = append(out, category)
	}
	sort.Strings(out)
	return out
}

// Close stops the supervisor and every subscription and waits for them.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}
