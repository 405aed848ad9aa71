package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"tally/internal/api"
	"tally/internal/config"
	"tally/internal/logging"
)

// shutdownTimeout bounds the HTTP shutdown and the pipeline drain.
const shutdownTimeout = 30 * time.Second

// signalContext is a test seam for the serve command's lifetime.
var signalContext = func() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// onListening is a test seam reporting the bound address.
var onListening = func(string) {}

// runServe builds the handler for the serve command.
func runServe(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}
		fs, configPath := newFlagSet(cmd, stderr)
		addr := fs.String("addr", "", "Address to listen on (default: server.listen_addr)")
		if code, ok := parseFlags(cmd, fs, args, stdout, stderr); !ok {
			return code
		}
		if rejectArgs(cmd, fs, stderr) {
			return ExitUsage
		}

		cfg, err := config.Load(resolveConfigPath(*configPath))
		if err != nil {
			fmt.Fprintf(stderr, "config error:\n%v\n", err)
			return ExitError
		}
		if *addr != "" {
			cfg.Server.ListenAddr = *addr
		}

		processID := uuid.NewString()
		logger := logging.New(logging.Options{Level: cfg.Server.LogLevel, Writer: stderr}).
			With("process_id", processID)
		ctx, stop := signalContext()
		defer stop()
		if err := serve(ctx, cfg, processID, logger, stdout); err != nil {
			logger.Error("serve failed", "error", err)
			return ExitError
		}
		return ExitOK
	}
}

// serve runs the HTTP service until ctx ends, then drains and closes.
func serve(ctx context.Context, cfg config.Config, processID string, logger *slog.Logger, stdout io.Writer) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt, err := openRuntime(cfg, logger, runtimeOptions{Registerer: registry, ProcessID: processID})
	if err != nil {
		return err
	}
	if err := rt.bootstrap(ctx); err != nil {
		// Categories that failed stay subscribed and recover via their watch.
		logger.Error("limit bootstrap incomplete", "error", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "ok\n")
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.Handle("/v1/", api.NewHandler(api.Config{Counters: rt.counter, Limits: rt.limits, Logger: logger}))

	listener, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		_ = rt.close(context.Background())
		return fmt.Errorf("listen %s: %w", cfg.Server.ListenAddr, err)
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	fmt.Fprintf(stdout, "Serving tally at http://%s\n", listener.Addr())
	logger.Info("serving", "addr", listener.Addr().String(), "backend", cfg.Coordination.Backend,
		"store", cfg.Counters.Store, "async", cfg.Counters.Async)
	onListening(listener.Addr().String())

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		// No handler can enqueue once the server is down, so the drain sees
		// every accepted increment.
		if err := rt.close(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
	return group.Wait()
}
