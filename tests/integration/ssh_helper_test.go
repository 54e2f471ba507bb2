package integration

import (
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rileyhilliard/rx/internal/conn"
	"github.com/rileyhilliard/rx/internal/engine"
	"github.com/rileyhilliard/rx/pkg/sshutil"
)

// RequireSSH skips the test unless a real SSH server is configured through
// RX_TEST_SSH_HOST (user@host[:port]) and RX_TEST_SSH_KEY.
func RequireSSH(t *testing.T) {
	t.Helper()
	if os.Getenv("RX_TEST_SSH_HOST") == "" {
		t.Skip("Skipping: RX_TEST_SSH_HOST not set (SSH test server not available)")
	}
	if os.Getenv("RX_TEST_SSH_KEY") == "" {
		t.Skip("Skipping: RX_TEST_SSH_KEY not set (SSH test key not available)")
	}
}

// GetTestTarget parses RX_TEST_SSH_HOST into a target using RX_TEST_SSH_KEY.
func GetTestTarget(t *testing.T) sshutil.Target {
	t.Helper()
	RequireSSH(t)

	hostSpec := os.Getenv("RX_TEST_SSH_HOST")
	target := sshutil.Target{
		KeyPath:        os.Getenv("RX_TEST_SSH_KEY"),
		ConnectTimeout: 10 * time.Second,
	}
	if idx := strings.LastIndex(hostSpec, "@"); idx >= 0 {
		target.User = hostSpec[:idx]
		hostSpec = hostSpec[idx+1:]
	}
	target.Host = hostSpec
	if idx := strings.LastIndex(hostSpec, ":"); idx >= 0 {
		port, err := strconv.Atoi(hostSpec[idx+1:])
		if err != nil {
			t.Fatalf("bad port in RX_TEST_SSH_HOST: %v", err)
		}
		target.Host = hostSpec[:idx]
		target.Port = port
	}
	if target.User == "" {
		target.User = os.Getenv("USER")
	}
	return target
}

// NewTestEngine builds a manager and engine against the test server. Both
// are closed when the test ends.
func NewTestEngine(t *testing.T, opts ...engine.Option) (*conn.Manager, *engine.Engine) {
	t.Helper()
	manager := conn.New(GetTestTarget(t))
	t.Cleanup(func() { _ = manager.Close() })

	opts = append([]engine.Option{engine.WithTimeout(30 * time.Second)}, opts...)
	return manager, engine.New(manager, opts...)
}
