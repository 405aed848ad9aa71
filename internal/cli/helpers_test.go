package cli

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"tally/internal/config"
	"tally/internal/coord"
	"tally/internal/coord/memory"
)

// sharedClient keeps one in-memory service alive across commands.
type sharedClient struct {
	coord.Client
}

func (sharedClient) Close() error { return nil }

// useSharedService routes every command to svc for the rest of the test.
func useSharedService(t *testing.T) *memory.Service {
	t.Helper()
	svc := memory.New()
	previous := connectCoord
	connectCoord = func(config.Coordination, *slog.Logger) (coord.Client, error) {
		return sharedClient{Client: svc}, nil
	}
	t.Cleanup(func() {
		connectCoord = previous
		_ = svc.Close()
	})
	return svc
}

// useSignalContext replaces the signal context with one the test cancels.
func useSignalContext(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	previous := signalContext
	signalContext = func() (context.Context, context.CancelFunc) {
		return context.WithCancel(ctx)
	}
	t.Cleanup(func() {
		signalContext = previous
		cancel()
	})
	return cancel
}

// writeConfig writes a memory-backed config file with extra YAML appended.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	body := "coordination:\n  backend: memory\nserver:\n  log_level: error\n" + extra
	path := filepath.Join(t.TempDir(), "tally.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// runCLI runs one command and returns exit code, stdout and stderr.
func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// tableRows splits plain table output into whitespace separated fields,
// skipping the header.
func tableRows(out string) [][]string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) <= 1 {
		return nil
	}
	rows := make([][]string, 0, len(lines)-1)
	for _, line := range lines[1:] {
		rows = append(rows, strings.Fields(line))
	}
	return rows
}

// lockedBuffer is a bytes.Buffer safe for concurrent writers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
