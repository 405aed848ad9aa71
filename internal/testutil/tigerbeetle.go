package testutil

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TBInstance describes a TigerBeetle cluster reachable from a test.
type TBInstance struct {
	ClusterID uint32
	Addresses []string
}

// TigerBeetle returns the cluster named by TB_ADDRESSES, or starts a
// single replica from TB_BIN or PATH. The test is skipped when neither is
// available.
func TigerBeetle(t *testing.T) *TBInstance {
	t.Helper()
	if env := strings.TrimSpace(os.Getenv("TB_ADDRESSES")); env != "" {
		return &TBInstance{Addresses: splitList(env)}
	}
	return startTigerBeetleSingleReplica(t)
}

// ZooKeeperServers returns the ensemble named by TALLY_ZK_SERVERS or skips.
func ZooKeeperServers(t *testing.T) []string {
	t.Helper()
	env := strings.TrimSpace(os.Getenv("TALLY_ZK_SERVERS"))
	if env == "" {
		t.Skip("TALLY_ZK_SERVERS not set")
	}
	return splitList(env)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func startTigerBeetleSingleReplica(t *testing.T) *TBInstance {
	t.Helper()
	tbBin := lookupTBBinary(t)
	port := freePort(t)
	dataFile := filepath.Join(t.TempDir(), "0_0.tigerbeetle")
	address := fmt.Sprintf("127.0.0.1:%d", port)

	runCommand(t, exec.Command(tbBin, "format", "--cluster=0", "--replica=0", "--replica-count=1", "--development", dataFile))

	var stdout, stderr bytes.Buffer
	startCmd := exec.Command(tbBin, "start", "--addresses="+address, "--development", dataFile)
	startCmd.Stdout = &stdout
	startCmd.Stderr = &stderr
	if err := startCmd.Start(); err != nil {
		t.Fatalf("tigerbeetle start failed: %v\nstdout:\n%s\nstderr:\n%s", err, stdout.String(), stderr.String())
	}
	t.Cleanup(func() {
		_ = startCmd.Process.Kill()
		_, _ = startCmd.Process.Wait()
	})
	waitForPort(t, address, 5*time.Second)
	return &TBInstance{Addresses: []string{address}}
}

func lookupTBBinary(t *testing.T) string {
	t.Helper()
	if env := os.Getenv("TB_BIN"); env != "" {
		return env
	}
	path, err := exec.LookPath("tigerbeetle")
	if err != nil {
		t.Skip("TB_ADDRESSES and TB_BIN not set and tigerbeetle not found on PATH")
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen for free port: %v", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

func waitForPort(t *testing.T, address string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", address, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("port %s did not become ready", address)
}

func runCommand(t *testing.T, cmd *exec.Cmd) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("command failed: %v\nstdout:\n%s\nstderr:\n%s", err, stdout.String(), stderr.String())
	}
}
