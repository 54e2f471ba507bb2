// Package conn owns the single persistent SSH connection shared by every
// command the engine runs. It reconnects lazily: nothing is dialed until the
// first Acquire, and a lost or invalidated connection is replaced on the next
// Acquire after it.
package conn

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/rileyhilliard/rx/internal/errors"
	"github.com/rileyhilliard/rx/internal/logger"
	"github.com/rileyhilliard/rx/internal/metrics"
	"github.com/rileyhilliard/rx/pkg/sshutil"
)

// State is the manager's connection lifecycle state.
type State int

const (
	// Disconnected means no usable session exists and no attempt is in flight.
	Disconnected State = iota
	// Connecting means exactly one connection attempt is in flight.
	Connecting
	// Ready means a live session exists.
	Ready
)

// String returns a human-readable description of the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Event reports a state transition.
type Event struct {
	From   State
	To     State
	Reason string
	Target string
}

// EventHandler is a callback for state transitions. It runs with the
// manager's lock held and must not call back into the manager.
type EventHandler func(event Event)

// Session is one live SSH connection. A Session is never reused once it has
// been superseded; its Generation tells sessions from different attempts apart.
type Session struct {
	Conn        sshutil.Conn
	Generation  uint64
	ConnectedAt time.Time
}

// attempt is a connection attempt shared by every Acquire that arrives while
// it is in flight.
type attempt struct {
	done    chan struct{}
	session *Session
	err     error
}

// Manager hands out the current Session, connecting on demand.
type Manager struct {
	target  sshutil.Target
	dialer  sshutil.Dialer
	log     logger.Logger
	metrics metrics.Recorder
	label   string
	onEvent EventHandler

	// ctx scopes dial attempts to the manager's lifetime, not any one caller.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	current    *Session
	inflight   *attempt
	generation uint64
	closed     bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the SSH dialer.
func WithDialer(d sshutil.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// WithLabel sets the tool label attached to metrics.
func WithLabel(label string) Option {
	return func(m *Manager) { m.label = label }
}

// WithEventHandler sets a callback for state transitions.
func WithEventHandler(h EventHandler) Option {
	return func(m *Manager) { m.onEvent = h }
}

// New creates a Disconnected manager for target.
func New(target sshutil.Target, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		target:  target,
		dialer:  sshutil.DefaultDialer,
		log:     logger.Noop(),
		metrics: metrics.Noop(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("target", target.String())
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Target returns the target this manager connects to.
func (m *Manager) Target() sshutil.Target {
	return m.target
}

// Acquire returns the current Session, connecting first if there is none.
// Callers arriving while an attempt is in flight wait for that attempt rather
// than starting another, and all of them observe its result. ctx only bounds
// this caller's wait: giving up does not abort the shared attempt.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New(errors.ErrSSH, "Connection manager is closed", "")
	}
	if m.state == Ready && m.current != nil {
		s := m.current
		m.mu.Unlock()
		return s, nil
	}

	a := m.inflight
	if a == nil {
		a = &attempt{done: make(chan struct{})}
		m.inflight = a
		m.setState(Connecting, "acquire")
		go m.connect(a)
	}
	m.mu.Unlock()

	select {
	case <-a.done:
		return a.session, a.err
	case <-ctx.Done():
		return nil, errors.WrapConnection(ctx.Err(), m.target.String(),
			"Gave up waiting for the SSH connection.")
	}
}

// connect runs one attempt to completion and publishes its result.
func (m *Manager) connect(a *attempt) {
	m.log.Debug("Dialing %s", m.target.Address())
	start := time.Now()

	c, err := m.dialer.Dial(m.ctx, m.target)

	m.mu.Lock()
	m.inflight = nil
	switch {
	case err != nil:
		m.setState(Disconnected, "connect failed")
		a.err = asConnectionError(err, m.target)
	case m.closed:
		// Close ran while we were dialing. The new connection has no owner.
		_ = c.Close()
		m.setState(Disconnected, "closed")
		a.err = errors.New(errors.ErrSSH, "Connection manager is closed", "")
	default:
		m.generation++
		s := &Session{Conn: c, Generation: m.generation, ConnectedAt: time.Now()}
		m.current = s
		m.setState(Ready, "connected")
		a.session = s
		go m.watch(s)
	}
	m.mu.Unlock()

	m.metrics.ConnectAttempt(m.label, err == nil)
	if err != nil {
		m.log.Warn("Connect to %s failed after %s: %v", m.target.String(), time.Since(start).Round(time.Millisecond), err)
	} else {
		m.log.Debug("Connected to %s (%s) in %s", c.Address(), c.ServerVersion(), time.Since(start).Round(time.Millisecond))
	}
	close(a.done)
}

// watch reverts to Disconnected when s's connection ends, unless s has
// already been superseded.
func (m *Manager) watch(s *Session) {
	err := s.Conn.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != s {
		return
	}
	m.current = nil
	m.setState(Disconnected, "connection ended")
	if err != nil {
		m.log.Debug("Session %d ended: %v", s.Generation, err)
	}
}

// Invalidate tears down s. If s is still the current session the manager
// reverts to Disconnected so the next Acquire reconnects; requests against a
// superseded session leave the manager's state alone.
func (m *Manager) Invalidate(s *Session, reason string) {
	if s == nil {
		return
	}

	m.mu.Lock()
	if m.current == s {
		m.current = nil
		m.setState(Disconnected, reason)
	}
	m.mu.Unlock()

	m.log.Debug("Closing session %d: %s", s.Generation, reason)
	_ = s.Conn.Close()
}

// Close shuts the manager down: the current session is closed, an in-flight
// attempt is aborted, and every later Acquire fails.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	s := m.current
	m.current = nil
	if m.inflight == nil {
		m.setState(Disconnected, "closed")
	}
	m.mu.Unlock()

	m.cancel()
	if s != nil {
		return s.Conn.Close()
	}
	return nil
}

// setState records a transition. Callers hold m.mu.
func (m *Manager) setState(to State, reason string) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.log.Debug("State %s -> %s (%s)", from, to, reason)
	if m.onEvent != nil {
		m.onEvent(Event{From: from, To: to, Reason: reason, Target: m.target.String()})
	}
}

// asConnectionError keeps structured errors from the dialer and wraps the rest.
func asConnectionError(err error, target sshutil.Target) error {
	var rxErr *errors.Error
	if stderrors.As(err, &rxErr) {
		return err
	}
	return errors.WrapConnection(err, target.String(), "Make sure the host is reachable: ssh "+target.Host)
}
