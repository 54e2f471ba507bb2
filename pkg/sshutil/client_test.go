package sshutil_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rileyhilliard/rx/internal/errors"
	"github.com/rileyhilliard/rx/internal/testutil/sshtest"
	"github.com/rileyhilliard/rx/pkg/sshutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh/knownhosts"
)

func dial(t *testing.T, srv *sshtest.Server) *sshutil.Client {
	t.Helper()
	t.Setenv("SSH_AUTH_SOCK", "")
	client, err := sshutil.Dial(context.Background(), srv.Target())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

// run starts cmd and collects everything it produces.
func run(t *testing.T, client *sshutil.Client, cmd string) (string, string, sshutil.Exit, error) {
	t.Helper()
	proc, err := client.Start(cmd)
	require.NoError(t, err)

	var stdout, stderr []byte
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); stdout, _ = io.ReadAll(proc.Stdout()) }()
	go func() { defer wg.Done(); stderr, _ = io.ReadAll(proc.Stderr()) }()
	wg.Wait()

	exit, err := proc.Wait()
	return string(stdout), string(stderr), exit, err
}

func TestDial_Success(t *testing.T) {
	srv := sshtest.Start(t)
	client := dial(t, srv)

	assert.Equal(t, srv.Target().Address(), client.Address())
	assert.True(t, strings.HasPrefix(client.ServerVersion(), "SSH-2.0-"))
	assert.True(t, client.Alive())
	assert.Equal(t, 1, srv.Connections())
}

func TestDial_StrictHostKey(t *testing.T) {
	srv := sshtest.Start(t)
	t.Setenv("SSH_AUTH_SOCK", "")

	target := srv.Target()
	target.StrictHostKey = true
	target.KnownHostsPath = srv.WriteKnownHosts(t)

	client, err := sshutil.Dial(context.Background(), target)
	require.NoError(t, err)
	client.Close()
}

func TestDial_HostKeyMismatch(t *testing.T) {
	srv := sshtest.Start(t)
	other := sshtest.Start(t)
	t.Setenv("SSH_AUTH_SOCK", "")

	// srv's address, but the other server's key
	addr := knownhosts.Normalize(srv.Target().Address())
	known := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{addr}, other.HostKey())
	require.NoError(t, os.WriteFile(known, []byte(line+"\n"), 0o600))

	target := srv.Target()
	target.StrictHostKey = true
	target.KnownHostsPath = known

	_, err := sshutil.Dial(context.Background(), target)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrSSH))
	assert.Contains(t, err.Error(), "doesn't match known_hosts")
}

func TestDial_MissingKnownHostsFailsClosed(t *testing.T) {
	srv := sshtest.Start(t)
	t.Setenv("SSH_AUTH_SOCK", "")

	target := srv.Target()
	target.StrictHostKey = true
	target.KnownHostsPath = filepath.Join(t.TempDir(), "absent")

	_, err := sshutil.Dial(context.Background(), target)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrSSH))
	assert.Contains(t, err.Error(), "ssh-keyscan")
	assert.Equal(t, 0, srv.Connections())
}

func TestDial_BadKeyPath(t *testing.T) {
	srv := sshtest.Start(t)
	t.Setenv("SSH_AUTH_SOCK", "")

	target := srv.Target()
	target.KeyPath = filepath.Join(t.TempDir(), "nope")

	_, err := sshutil.Dial(context.Background(), target)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrSSH))
	assert.Contains(t, err.Error(), "Couldn't load SSH key")
}

func TestDial_NoAuthMethods(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	_, err := sshutil.Dial(context.Background(), sshutil.Target{Host: "127.0.0.1", Port: 1, User: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No SSH auth methods")
}

func TestDial_Refused(t *testing.T) {
	srv := sshtest.Start(t)
	t.Setenv("SSH_AUTH_SOCK", "")
	target := srv.Target()
	srv.Close()

	_, err := sshutil.Dial(context.Background(), target)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrSSH))
}

func TestDial_ContextCancelled(t *testing.T) {
	srv := sshtest.Start(t)
	t.Setenv("SSH_AUTH_SOCK", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sshutil.Dial(ctx, srv.Target())
	require.Error(t, err)
}

func TestStart_Output(t *testing.T) {
	srv := sshtest.Start(t)
	client := dial(t, srv)

	tests := []struct {
		cmd    string
		stdout string
		stderr string
		exit   sshutil.Exit
	}{
		{cmd: "echo hi", stdout: "hi\n"},
		{cmd: "warn careful", stderr: "careful\n"},
		{cmd: "both out err", stdout: "out\n", stderr: "err\n"},
		{cmd: "exit 3", exit: sshutil.Exit{Code: 3}},
		{cmd: "nostatus", exit: sshutil.Exit{Missing: true}},
		{cmd: "bogus", stderr: "sh: 1: bogus: not found\n", exit: sshutil.Exit{Code: 127}},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			stdout, stderr, exit, err := run(t, client, tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.stdout, stdout)
			assert.Equal(t, tt.stderr, stderr)
			assert.Equal(t, tt.exit, exit)
		})
	}

	// every command ran over the same connection
	assert.Equal(t, 1, srv.Connections())
}

func TestStart_Signal(t *testing.T) {
	srv := sshtest.Start(t)
	client := dial(t, srv)

	_, _, exit, err := run(t, client, "signal TERM")
	require.NoError(t, err)
	assert.Equal(t, "TERM", exit.Signal)
	assert.Equal(t, 128+15, exit.Code)
}

func TestWait_ConnectionLost(t *testing.T) {
	srv := sshtest.Start(t)
	client := dial(t, srv)

	_, _, _, err := run(t, client, "drop")
	assert.ErrorIs(t, err, sshutil.ErrConnectionLost)

	done := make(chan struct{})
	go func() {
		client.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("client.Wait did not return after the server dropped the connection")
	}
}

func TestKill(t *testing.T) {
	srv := sshtest.Start(t)
	client := dial(t, srv)

	proc, err := client.Start("sleep 30")
	require.NoError(t, err)

	require.NoError(t, proc.Kill())

	assert.Eventually(t, func() bool {
		return len(srv.Signals()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"KILL"}, srv.Signals())

	// the connection survives a killed channel
	stdout, _, _, err := run(t, client, "echo still here")
	require.NoError(t, err)
	assert.Equal(t, "still here\n", stdout)
}
