package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rileyhilliard/rx/internal/conn"
	"github.com/rileyhilliard/rx/internal/errors"
	"github.com/rileyhilliard/rx/internal/logger"
	"github.com/rileyhilliard/rx/internal/metrics"
	"github.com/rileyhilliard/rx/internal/testutil/sshtest"
	"github.com/rileyhilliard/rx/internal/wrapper"
	"github.com/rileyhilliard/rx/pkg/sshutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *conn.Manager, *sshtest.Server) {
	t.Helper()
	srv := sshtest.Start(t)
	m := conn.New(srv.Target())
	t.Cleanup(func() { m.Close() })
	return New(m, opts...), m, srv
}

func codeOf(t *testing.T, err error) *errors.Error {
	t.Helper()
	var rxErr *errors.Error
	require.True(t, stderrors.As(err, &rxErr), "expected *errors.Error, got %T: %v", err, err)
	return rxErr
}

func TestRun_EchoRendered(t *testing.T) {
	e, m, _ := newTestEngine(t)

	res, err := e.Run(context.Background(), "echo hi", 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "hi\n", res.Stdout)
	assert.Empty(t, res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hi\n\n(exit code: 0)", Render(res))
	assert.Len(t, res.RunID, 36)
	assert.Positive(t, res.Duration)
	assert.Equal(t, conn.Ready, m.State())
}

func TestRun_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		command    string
		wantStdout string
		wantStderr string
		wantCode   int
		wantSignal string
	}{
		{name: "stderr only", command: "warn oops", wantStderr: "oops\n"},
		{name: "both streams", command: "both out err", wantStdout: "out\n", wantStderr: "err\n"},
		{name: "no output", command: "silent"},
		{name: "non-zero exit is not an error", command: "exit 3", wantCode: 3},
		{name: "killed by signal", command: "signal TERM", wantCode: 143, wantSignal: "TERM"},
		{name: "no exit status defaults to zero", command: "nostatus"},
		{name: "unknown program", command: "frobnicate", wantStderr: "sh: 1: frobnicate: not found\n", wantCode: 127},
	}

	e, _, _ := newTestEngine(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Run(context.Background(), tt.command, 5*time.Second)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStdout, res.Stdout)
			assert.Equal(t, tt.wantStderr, res.Stderr)
			assert.Equal(t, tt.wantCode, res.ExitCode)
			assert.Equal(t, tt.wantSignal, res.ExitSignal)
		})
	}
}

func TestRun_RejectedNeverConnects(t *testing.T) {
	e, m, srv := newTestEngine(t)

	for _, cmd := range []string{"vim", "sudo", "python3", "  "} {
		_, err := e.Run(context.Background(), cmd, time.Second)
		require.Error(t, err, cmd)
		assert.Equal(t, errors.ErrRejected, codeOf(t, err).Code, cmd)
	}

	assert.Equal(t, 0, srv.Connections())
	assert.Equal(t, conn.Disconnected, m.State())
}

func TestRun_RejectedNamesProgram(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.Run(context.Background(), "/usr/bin/top", time.Second)
	rxErr := codeOf(t, err)
	assert.Equal(t, "top", rxErr.Program)
	assert.Equal(t, "Rejected: 'top' needs an interactive terminal (top without arguments needs an interactive terminal)", RenderError(err))
}

func TestRun_EmptyCommandRejected(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.Run(context.Background(), "", time.Second)
	rxErr := codeOf(t, err)
	assert.Equal(t, errors.ErrRejected, rxErr.Code)
	assert.Empty(t, rxErr.Program)
}

func TestRun_TimeoutTearsDownConnection(t *testing.T) {
	e, m, srv := newTestEngine(t)

	start := time.Now()
	_, err := e.Run(context.Background(), "sleep 5", 100*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)

	rxErr := codeOf(t, err)
	assert.Equal(t, errors.ErrTimeout, rxErr.Code)
	assert.Equal(t, 100*time.Millisecond, rxErr.Deadline)
	assert.Equal(t, conn.Disconnected, m.State())

	res, err := e.Run(context.Background(), "echo again", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "again\n", res.Stdout)
	assert.Equal(t, 2, srv.Connections())
}

func TestRun_DefaultDeadline(t *testing.T) {
	e, _, _ := newTestEngine(t, WithTimeout(100*time.Millisecond))
	assert.Equal(t, 100*time.Millisecond, e.Timeout())

	_, err := e.Run(context.Background(), "sleep 5", 0)
	rxErr := codeOf(t, err)
	assert.Equal(t, errors.ErrTimeout, rxErr.Code)
	assert.Equal(t, 100*time.Millisecond, rxErr.Deadline)
}

func TestRun_ChannelTimeoutKeepsConnection(t *testing.T) {
	e, m, srv := newTestEngine(t, WithTimeoutPolicy(PolicyChannel))

	_, err := e.Run(context.Background(), "sleep 5", 100*time.Millisecond)
	assert.Equal(t, errors.ErrTimeout, codeOf(t, err).Code)
	assert.Equal(t, conn.Ready, m.State())

	require.Eventually(t, func() bool {
		return len(srv.Signals()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"KILL"}, srv.Signals())

	res, err := e.Run(context.Background(), "echo still here", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "still here\n", res.Stdout)
	assert.Equal(t, 1, srv.Connections())
}

func TestRun_ConnectionTimeoutFailsOtherRuns(t *testing.T) {
	e, _, srv := newTestEngine(t)

	// warm up so both runs share one session
	_, err := e.Run(context.Background(), "silent", 5*time.Second)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background(), "sleep 10", 30*time.Second)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return len(srv.Commands()) == 2 }, 2*time.Second, 5*time.Millisecond)

	_, err = e.Run(context.Background(), "sleep 10", 100*time.Millisecond)
	assert.Equal(t, errors.ErrTimeout, codeOf(t, err).Code)

	select {
	case err := <-errCh:
		assert.Equal(t, errors.ErrStream, codeOf(t, err).Code)
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight run survived the session teardown")
	}
}

func TestRun_ContextCancelIsTimeout(t *testing.T) {
	e, m, _ := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := e.Run(ctx, "sleep 5", 30*time.Second)
	assert.Equal(t, errors.ErrTimeout, codeOf(t, err).Code)
	assert.Equal(t, conn.Disconnected, m.State())
}

func TestRun_DroppedConnectionIsStreamError(t *testing.T) {
	e, m, srv := newTestEngine(t)

	_, err := e.Run(context.Background(), "drop", 5*time.Second)
	assert.Equal(t, errors.ErrStream, codeOf(t, err).Code)
	require.Eventually(t, func() bool { return m.State() == conn.Disconnected }, 2*time.Second, 5*time.Millisecond)

	res, err := e.Run(context.Background(), "echo back", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "back\n", res.Stdout)
	assert.Equal(t, 2, srv.Connections())
}

func TestRun_WrapperComposition(t *testing.T) {
	e, _, srv := newTestEngine(t, WithWrapper("srt"))

	// Stand-in for a sandbox binary: unwrap and run the inner command.
	srv.SetHandler(func(ctx context.Context, cmd string, stdout, stderr io.Writer) sshtest.Outcome {
		inner, ok := strings.CutPrefix(cmd, "srt ")
		if !ok {
			return sshtest.Outcome{Code: 99}
		}
		unquoted, err := wrapper.Unquote(inner)
		if err != nil {
			return sshtest.Outcome{Code: 98}
		}
		return sshtest.Script(ctx, unquoted, stdout, stderr)
	})

	res, err := e.Run(context.Background(), "echo it's ok", 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, []string{`srt 'echo it'\''s ok'`}, srv.Commands())
	assert.Equal(t, "it's ok\n", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
}

func TestRun_MissingWrapperDiagnosed(t *testing.T) {
	e, _, _ := newTestEngine(t, WithWrapper("srt"))

	res, err := e.Run(context.Background(), "echo hi", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 127, res.ExitCode)

	hint := Diagnose(res, "echo hi", "srt")
	require.NotNil(t, hint)
	assert.Contains(t, hint.Message, "Wrapper 'srt' not found")
}

func TestRun_ConcurrentShareOneConnection(t *testing.T) {
	e, _, srv := newTestEngine(t)

	const runs = 12
	results := make([]*Result, runs)
	errs := make([]error, runs)

	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.Run(context.Background(), fmt.Sprintf("echo run-%d", i), 5*time.Second)
		}(i)
	}
	wg.Wait()

	for i := 0; i < runs; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("run-%d\n", i), results[i].Stdout)
	}
	assert.Equal(t, 1, srv.Connections())
}

func TestRun_Logging(t *testing.T) {
	log := logger.NewBufferLogger()
	e, _, _ := newTestEngine(t, WithLogger(log), WithToolLabel("shell"))

	_, err := e.Run(context.Background(), "vim", time.Second)
	require.Error(t, err)

	msgs := log.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "info", msgs[0].Level)
	assert.Contains(t, msgs[0].Message, `Rejected "vim"`)
	assert.Equal(t, "shell", msgs[0].Fields["tool"])
	assert.Len(t, msgs[0].Fields["run"], 8)
}

type finishedRun struct {
	label   string
	outcome string
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []finishedRun
}

func (r *fakeRecorder) ConnectAttempt(string, bool) {}

func (r *fakeRecorder) RunFinished(label, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, finishedRun{label, outcome})
}

func TestRun_RecordsOutcomes(t *testing.T) {
	rec := &fakeRecorder{}
	e, _, _ := newTestEngine(t, WithMetrics(rec), WithToolLabel("shell"))

	_, _ = e.Run(context.Background(), "echo ok", 5*time.Second)
	_, _ = e.Run(context.Background(), "exit 2", 5*time.Second)
	_, _ = e.Run(context.Background(), "less", 5*time.Second)
	_, _ = e.Run(context.Background(), "sleep 5", 50*time.Millisecond)

	assert.Equal(t, []finishedRun{
		{"shell", metrics.OutcomeOK},
		{"shell", metrics.OutcomeOK},
		{"shell", metrics.OutcomeRejected},
		{"shell", metrics.OutcomeTimeout},
	}, rec.runs)
}

// stubSessions serves one fixed session and records invalidations.
type stubSessions struct {
	session *conn.Session
	err     error

	mu          sync.Mutex
	invalidated []string
}

func (s *stubSessions) Acquire(context.Context) (*conn.Session, error) {
	return s.session, s.err
}

func (s *stubSessions) Invalidate(_ *conn.Session, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, reason)
}

type stubConn struct {
	startErr error
	proc     sshutil.Process
}

func (c *stubConn) Start(string) (sshutil.Process, error) { return c.proc, c.startErr }
func (c *stubConn) Wait() error                           { return nil }
func (c *stubConn) Close() error                          { return nil }
func (c *stubConn) Address() string                       { return "stub:22" }
func (c *stubConn) ServerVersion() string                 { return "SSH-2.0-stub" }

type stubProcess struct {
	stdout, stderr io.Reader
	exit           sshutil.Exit
	waitErr        error
	killErr        error
}

func (p *stubProcess) Stdout() io.Reader           { return p.stdout }
func (p *stubProcess) Stderr() io.Reader           { return p.stderr }
func (p *stubProcess) Wait() (sshutil.Exit, error) { return p.exit, p.waitErr }
func (p *stubProcess) Kill() error                 { return p.killErr }

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestRun_ConnectionErrorPropagated(t *testing.T) {
	want := errors.WrapConnection(stderrors.New("connection refused"), "dev@box:22", "")
	e := New(&stubSessions{err: want})

	_, err := e.Run(context.Background(), "echo hi", time.Second)
	assert.Same(t, want, err)
	assert.Equal(t, "Connection error: Couldn't connect to 'dev@box:22' (connection refused)", RenderError(err))
}

func TestRun_StartFailureIsExecError(t *testing.T) {
	sessions := &stubSessions{session: &conn.Session{
		Conn:       &stubConn{startErr: stderrors.New("open session: channel open failed")},
		Generation: 1,
	}}
	e := New(sessions)

	_, err := e.Run(context.Background(), "echo hi", time.Second)
	assert.Equal(t, errors.ErrExec, codeOf(t, err).Code)
	assert.Equal(t, []string{"start failed"}, sessions.invalidated)
}

func TestRun_StreamReadError(t *testing.T) {
	proc := &stubProcess{
		stdout: failingReader{err: stderrors.New("connection reset by peer")},
		stderr: strings.NewReader(""),
	}
	e := New(&stubSessions{session: &conn.Session{Conn: &stubConn{proc: proc}}})

	_, err := e.Run(context.Background(), "echo hi", time.Second)
	rxErr := codeOf(t, err)
	assert.Equal(t, errors.ErrStream, rxErr.Code)
	assert.Contains(t, rxErr.Cause.Error(), "connection reset")
}

func TestRun_LostBeforeExitStatus(t *testing.T) {
	proc := &stubProcess{
		stdout:  strings.NewReader("partial"),
		stderr:  strings.NewReader(""),
		waitErr: sshutil.ErrConnectionLost,
	}
	e := New(&stubSessions{session: &conn.Session{Conn: &stubConn{proc: proc}}})

	_, err := e.Run(context.Background(), "echo hi", time.Second)
	assert.Equal(t, errors.ErrStream, codeOf(t, err).Code)
	assert.True(t, stderrors.Is(err, sshutil.ErrConnectionLost))
}

func TestRun_ChannelKillFailureFallsBackToInvalidate(t *testing.T) {
	block, unblock := io.Pipe()
	defer unblock.Close()

	sessions := &stubSessions{}
	proc := &stubProcess{
		stdout:  block,
		stderr:  strings.NewReader(""),
		killErr: stderrors.New("channel already gone"),
	}
	sessions.session = &conn.Session{Conn: &stubConn{proc: proc}}
	e := New(sessions, WithTimeoutPolicy(PolicyChannel))

	_, err := e.Run(context.Background(), "sleep 100", 50*time.Millisecond)
	assert.Equal(t, errors.ErrTimeout, codeOf(t, err).Code)
	assert.Equal(t, []string{"timeout"}, sessions.invalidated)
}

func TestFinalizer_FirstOutcomeWins(t *testing.T) {
	f := newFinalizer()

	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var ok bool
			if i%2 == 0 {
				ok = f.finish(&Result{ExitCode: i}, nil)
			} else {
				ok = f.finish(nil, errors.NewTimeout(time.Second))
			}
			if ok {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	<-f.done
	assert.Equal(t, 1, firsts)
	assert.True(t, (f.res == nil) != (f.err == nil), "exactly one of result or error is set")
}

func TestPlan(t *testing.T) {
	e := New(&stubSessions{}, WithWrapper("  srt  "))

	v, composed := e.Plan("echo it's ok")
	assert.True(t, v.Allowed)
	assert.Equal(t, `srt 'echo it'\''s ok'`, composed)

	v, composed = e.Plan("vim")
	assert.False(t, v.Allowed)
	assert.Equal(t, "vim", v.Program)
	assert.Empty(t, composed)
}

func TestParseTimeoutPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeoutPolicy
		wantErr bool
	}{
		{in: "", want: PolicyConnection},
		{in: "connection", want: PolicyConnection},
		{in: " Channel ", want: PolicyChannel},
		{in: "process", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeoutPolicy(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCode(err, errors.ErrConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
