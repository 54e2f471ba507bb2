// Package engine runs one command at a time, or many concurrently, on the
// shared SSH session: it filters, wraps, submits, collects output, and
// enforces a deadline, producing exactly one outcome per run.
package engine

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rileyhilliard/rx/internal/conn"
	"github.com/rileyhilliard/rx/internal/errors"
	"github.com/rileyhilliard/rx/internal/logger"
	"github.com/rileyhilliard/rx/internal/metrics"
	"github.com/rileyhilliard/rx/internal/safety"
	"github.com/rileyhilliard/rx/internal/wrapper"
	"github.com/rileyhilliard/rx/pkg/sshutil"
)

const (
	// DefaultTimeout applies when a run passes no deadline of its own.
	DefaultTimeout = 60 * time.Second
	// DefaultToolLabel tags log lines and metrics.
	DefaultToolLabel = "remote-shell"
)

// TimeoutPolicy decides what a timeout tears down.
type TimeoutPolicy string

const (
	// PolicyConnection closes the whole session. Every other command in
	// flight on it fails too, and the next run reconnects.
	PolicyConnection TimeoutPolicy = "connection"
	// PolicyChannel kills only the timed-out command's channel.
	PolicyChannel TimeoutPolicy = "channel"
)

// ParseTimeoutPolicy accepts "connection", "channel", or "" (connection).
func ParseTimeoutPolicy(s string) (TimeoutPolicy, error) {
	switch TimeoutPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyConnection:
		return PolicyConnection, nil
	case PolicyChannel:
		return PolicyChannel, nil
	default:
		return "", errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown timeout_policy '%s'", s),
			"Use 'connection' (default) or 'channel'.")
	}
}

// Sessions hands out the shared session. *conn.Manager implements it.
type Sessions interface {
	Acquire(ctx context.Context) (*conn.Session, error)
	Invalidate(s *conn.Session, reason string)
}

// Engine executes commands. Safe for concurrent use.
type Engine struct {
	sessions      Sessions
	policy        safety.Policy
	wrapper       string
	timeout       time.Duration
	timeoutPolicy TimeoutPolicy
	label         string
	log           logger.Logger
	metrics       metrics.Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy replaces the default safety policy.
func WithPolicy(p safety.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithWrapper sets the sandbox wrapper prefix. Empty means none.
func WithWrapper(w string) Option {
	return func(e *Engine) { e.wrapper = strings.TrimSpace(w) }
}

// WithTimeout sets the default deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithTimeoutPolicy sets what a timeout tears down.
func WithTimeoutPolicy(p TimeoutPolicy) Option {
	return func(e *Engine) { e.timeoutPolicy = p }
}

// WithToolLabel sets the label used in logs and metrics.
func WithToolLabel(label string) Option {
	return func(e *Engine) {
		if label != "" {
			e.label = label
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// New creates an Engine drawing sessions from s.
func New(s Sessions, opts ...Option) *Engine {
	e := &Engine{
		sessions:      s,
		policy:        safety.DefaultPolicy(),
		timeout:       DefaultTimeout,
		timeoutPolicy: PolicyConnection,
		label:         DefaultToolLabel,
		log:           logger.Noop(),
		metrics:       metrics.Noop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("tool", e.label)
	return e
}

// Timeout returns the default deadline.
func (e *Engine) Timeout() time.Duration { return e.timeout }

// Plan reports what Run would do with command without touching the network:
// the filter's verdict and, when allowed, the exact string sent to the host.
func (e *Engine) Plan(command string) (safety.Verdict, string) {
	v := e.policy.Classify(command)
	if !v.Allowed || strings.TrimSpace(command) == "" {
		return v, ""
	}
	return v, wrapper.Compose(command, e.wrapper)
}

// Run executes command on the shared session and waits for exactly one
// outcome: a Result, or an *errors.Error coded REJECTED, SSH, EXEC, TIMEOUT,
// or STREAM. A deadline of zero or less uses the engine's default. The
// deadline starts once the command is submitted; cancelling ctx after that
// counts as a timeout.
func (e *Engine) Run(ctx context.Context, command string, deadline time.Duration) (*Result, error) {
	runID := uuid.NewString()
	log := e.log.With("run", runID[:8])
	start := time.Now()

	res, err := e.run(ctx, log, command, deadline)

	elapsed := time.Since(start)
	e.metrics.RunFinished(e.label, outcomeOf(err), elapsed)
	if err != nil {
		return nil, err
	}
	res.RunID = runID
	res.Duration = elapsed
	log.Debug("Finished with exit code %d in %s", res.ExitCode, elapsed.Round(time.Millisecond))
	return res, nil
}

func (e *Engine) run(ctx context.Context, log logger.Logger, command string, deadline time.Duration) (*Result, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.NewRejected("")
	}
	if v := e.policy.Classify(command); !v.Allowed {
		log.Info("Rejected %q: %s", command, v.Reason)
		rej := errors.NewRejected(v.Program)
		rej.Cause = stderrors.New(v.Reason)
		return nil, rej
	}

	composed := wrapper.Compose(command, e.wrapper)
	if deadline <= 0 {
		deadline = e.timeout
	}

	sess, err := e.sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	log = log.With("session", sess.Generation)

	proc, err := sess.Conn.Start(composed)
	if err != nil {
		e.sessions.Invalidate(sess, "start failed")
		return nil, errors.WrapExec(err, command)
	}
	log.Debug("Started %q (deadline %s)", composed, deadline)

	f := newFinalizer()
	go collect(proc, f)

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-f.done:
	case <-timer.C:
		e.expire(log, f, sess, proc, deadline, "deadline")
	case <-ctx.Done():
		e.expire(log, f, sess, proc, deadline, "cancelled")
	}

	return f.res, f.err
}

// expire records the timeout outcome if nothing else got there first, then
// applies the timeout policy.
func (e *Engine) expire(log logger.Logger, f *finalizer, sess *conn.Session, proc sshutil.Process, deadline time.Duration, why string) {
	if !f.finish(nil, errors.NewTimeout(deadline)) {
		return
	}

	if e.timeoutPolicy == PolicyChannel {
		log.Warn("Timed out after %s (%s); killing the command's channel", deadline, why)
		err := proc.Kill()
		if err == nil {
			return
		}
		log.Warn("Kill failed, closing the session instead: %v", err)
	} else {
		log.Warn("Timed out after %s (%s); closing session %d", deadline, why, sess.Generation)
	}
	e.sessions.Invalidate(sess, "timeout")
}

// collect drains both streams, then waits for the exit status, and reports
// whichever terminal outcome comes first.
func collect(proc sshutil.Process, f *finalizer) {
	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup

	drain := func(dst *bytes.Buffer, src io.Reader) {
		defer wg.Done()
		if _, err := io.Copy(dst, src); err != nil {
			f.finish(nil, errors.WrapStream(err))
		}
	}
	wg.Add(2)
	go drain(&stdout, proc.Stdout())
	go drain(&stderr, proc.Stderr())
	wg.Wait()

	exit, err := proc.Wait()
	if err != nil {
		f.finish(nil, errors.WrapStream(err))
		return
	}
	f.finish(&Result{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ExitCode:   exit.Code,
		ExitSignal: exit.Signal,
	}, nil)
}

// finalizer keeps the first outcome reported for a run and drops the rest.
type finalizer struct {
	once sync.Once
	done chan struct{}
	res  *Result
	err  error
}

func newFinalizer() *finalizer {
	return &finalizer{done: make(chan struct{})}
}

// finish records an outcome and reports whether it was the first.
func (f *finalizer) finish(res *Result, err error) bool {
	first := false
	f.once.Do(func() {
		f.res, f.err = res, err
		first = true
		close(f.done)
	})
	return first
}

func outcomeOf(err error) string {
	if err == nil {
		return metrics.OutcomeOK
	}
	var rxErr *errors.Error
	if !stderrors.As(err, &rxErr) {
		return metrics.OutcomeConnection
	}
	switch rxErr.Code {
	case errors.ErrRejected:
		return metrics.OutcomeRejected
	case errors.ErrExec:
		return metrics.OutcomeExec
	case errors.ErrTimeout:
		return metrics.OutcomeTimeout
	case errors.ErrStream:
		return metrics.OutcomeStream
	default:
		return metrics.OutcomeConnection
	}
}
