package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"tally/internal/config"
	"tally/internal/coord"
	"tally/internal/coord/memory"
	"tally/internal/coord/zkclient"
	"tally/internal/counter"
	"tally/internal/ledger"
	"tally/internal/limits"
	"tally/internal/metrics"
)

// connectCoord is a test seam for opening the coordination client.
var connectCoord = defaultConnectCoord

// dialLedger is a test seam for opening the TigerBeetle pool.
var dialLedger = func(cfg config.Ledger) (*ledger.Pool, error) {
	return ledger.Dial(cfg.ClusterID, cfg.Addresses, cfg.Sessions)
}

func defaultConnectCoord(cfg config.Coordination, logger *slog.Logger) (coord.Client, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	default:
		return zkclient.Connect(zkclient.Config{
			Servers:        cfg.Servers,
			SessionTimeout: cfg.SessionTimeout,
			ConnectTimeout: cfg.ConnectTimeout,
		}, logger)
	}
}

// runtimeOptions selects the parts a command needs.
type runtimeOptions struct {
	Registerer prometheus.Registerer
	ProcessID  string
	// Sync applies increments on the caller's goroutine regardless of
	// counters.async.
	Sync bool
	// NoSupervisor disables the lost subscription supervisor.
	NoSupervisor bool
}

// runtime holds the components shared by every command.
type runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	client   coord.Client
	ledger   *ledger.Store
	engine   *counter.Engine
	counter  *counter.Counter
	limits   *limits.Manager
	defaults []config.CategoryLimit
}

// openRuntime wires the coordination client, counter store, engine, counter
// facade and limit manager. The limit manager is not bootstrapped.
func openRuntime(cfg config.Config, logger *slog.Logger, opts runtimeOptions) (*runtime, error) {
	m := metrics.New(opts.Registerer, opts.ProcessID)
	client, err := connectCoord(cfg.Coordination, logger)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Coordination.Backend, err)
	}
	rt := &runtime{cfg: cfg, logger: logger, metrics: m, client: client}

	var store counter.Store = counter.NewCoordStore(client, coord.RetryNTimes{
		Attempts: cfg.Counters.Attempts,
		Sleep:    cfg.Counters.AttemptSleep,
	})
	if cfg.Counters.Store == config.StoreLedger {
		pool, err := dialLedger(cfg.Ledger)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect ledger: %w", err)
		}
		rt.ledger = ledger.NewStore(pool, logger)
		store = rt.ledger
	}

	rt.engine = counter.NewEngine(store, counter.EngineOptions{
		InitialBackoff:  cfg.Counters.Backoff.Initial,
		MaxBackoff:      cfg.Counters.Backoff.Max,
		HandleCacheSize: cfg.Counters.HandleCacheSize,
		Logger:          logger,
		Metrics:         m,
	})
	async := cfg.Counters.Async && !opts.Sync
	rt.counter = counter.New(rt.engine, counter.PathPolicy{
		Root:       cfg.Counters.Root,
		NodePrefix: cfg.Counters.NodePrefix,
	}, counter.Options{
		Async: async,
		Pipeline: counter.PipelineOptions{
			Capacity: cfg.Counters.QueueCapacity,
			Logger:   logger,
			Metrics:  m,
		},
		Logger: logger,
	})

	supervisor := cfg.Limits.SupervisorInterval
	if opts.NoSupervisor {
		supervisor = 0
	}
	rt.limits = limits.NewManager(client, limits.Options{
		Root:               cfg.Limits.Root,
		RearmAttempts:      cfg.Limits.RearmAttempts,
		SupervisorInterval: supervisor,
		Logger:             logger,
		Metrics:            m,
	})

	defaults, problems := config.ParseCategoryLimits(cfg.Limits.Categories)
	for _, problem := range problems {
		logger.Error("category entry omitted", "error", problem)
	}
	rt.defaults = defaults
	return rt, nil
}

// bootstrap seeds and subscribes every configured category.
func (rt *runtime) bootstrap(ctx context.Context) error {
	return rt.limits.Bootstrap(ctx, rt.defaults)
}

// close drains the pipeline, then stops subscriptions and the clients.
func (rt *runtime) close(ctx context.Context) error {
	var errs []error
	if err := rt.counter.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain counters: %w", err))
	}
	if err := rt.limits.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close limits: %w", err))
	}
	if rt.ledger != nil {
		if err := rt.ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ledger: %w", err))
		}
	}
	if err := rt.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", rt.cfg.Coordination.Backend, err))
	}
	return errors.Join(errs...)
}
