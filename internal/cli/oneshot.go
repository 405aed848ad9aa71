package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"tally/internal/config"
	"tally/internal/logging"
)

// oneShotTimeout bounds a whole one-shot command.
const oneShotTimeout = 30 * time.Second

// withRuntime loads config, opens a sync runtime without supervisor, runs fn
// and closes everything.
func withRuntime(configPath string, stderr io.Writer, fn func(ctx context.Context, rt *runtime) int) int {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		fmt.Fprintf(stderr, "config error:\n%v\n", err)
		return ExitError
	}
	logger := logging.New(logging.Options{Level: cfg.Server.LogLevel, Writer: stderr})
	rt, err := openRuntime(cfg, logger, runtimeOptions{Sync: true, NoSupervisor: true})
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return ExitError
	}
	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, oneShotTimeout)
	defer cancel()

	code := fn(ctx, rt)
	if err := rt.close(ctx); err != nil {
		fmt.Fprintf(stderr, "close: %v\n", err)
		if code == ExitOK {
			code = ExitError
		}
	}
	return code
}
