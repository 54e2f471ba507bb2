package cli

import (
	"io"
	"os"

	"github.com/rileyhilliard/rx/internal/config"
	"github.com/rileyhilliard/rx/internal/conn"
	"github.com/rileyhilliard/rx/internal/engine"
	"github.com/rileyhilliard/rx/internal/logger"
	"github.com/rileyhilliard/rx/internal/metrics"
	"github.com/rileyhilliard/rx/internal/ui"
	"github.com/rileyhilliard/rx/pkg/sshutil"
	"golang.org/x/term"
)

// session carries the connection manager and engine built from one config.
// Close must be called to drop the SSH connection.
type session struct {
	cfg     *config.Config
	target  sshutil.Target
	manager *conn.Manager
	engine  *engine.Engine
}

// sessionOptions tune openSession.
type sessionOptions struct {
	dialer   sshutil.Dialer   // nil dials real SSH
	recorder metrics.Recorder // nil records nothing
	progress io.Writer        // connecting spinner; nil shows none
}

// openSession validates cfg and builds the manager and engine. It does not
// connect; the first Run or Acquire does.
func openSession(cfg *config.Config, opts sessionOptions) (*session, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	target := cfg.Target()
	if err := config.ValidateTarget(target); err != nil {
		return nil, err
	}
	policy, err := engine.ParseTimeoutPolicy(cfg.TimeoutPolicy)
	if err != nil {
		return nil, err
	}

	rec := opts.recorder
	if rec == nil {
		rec = metrics.Noop()
	}
	log := cliLogger()

	managerOpts := []conn.Option{
		conn.WithLogger(log.With("component", "conn")),
		conn.WithMetrics(rec),
		conn.WithLabel(cfg.ToolLabel),
	}
	if opts.dialer != nil {
		managerOpts = append(managerOpts, conn.WithDialer(opts.dialer))
	}
	if opts.progress != nil {
		managerOpts = append(managerOpts, conn.WithEventHandler(connectProgress(target, opts.progress)))
	}
	manager := conn.New(target, managerOpts...)

	eng := engine.New(manager,
		engine.WithPolicy(cfg.SafetyPolicy()),
		engine.WithWrapper(cfg.Wrapper),
		engine.WithTimeout(cfg.Timeout),
		engine.WithTimeoutPolicy(policy),
		engine.WithToolLabel(cfg.ToolLabel),
		engine.WithLogger(log.With("component", "engine")),
		engine.WithMetrics(rec),
	)

	log.Debug("Session for %s (policy %s, wrapper %q)", target.String(), policy, cfg.Wrapper)

	return &session{
		cfg:     cfg,
		target:  target,
		manager: manager,
		engine:  eng,
	}, nil
}

// Close drops the connection.
func (s *session) Close() error {
	return s.manager.Close()
}

// connectProgress shows a spinner on w for as long as the manager is dialing.
// The manager serializes events, so the spinner needs no lock of its own.
func connectProgress(target sshutil.Target, w io.Writer) conn.EventHandler {
	var spinner *ui.Spinner
	connected := false
	return func(ev conn.Event) {
		switch {
		case ev.To == conn.Connecting:
			verb := "Connecting to "
			if connected {
				verb = "Reconnecting to "
			}
			spinner = ui.NewSpinner(verb+target.String(), w)
			spinner.Start()
		case ev.From == conn.Connecting && spinner != nil:
			if ev.To == conn.Ready {
				connected = true
				spinner.Success()
			} else {
				spinner.Fail()
			}
			spinner = nil
		}
	}
}

// progressWriter returns stderr when a spinner should be drawn on it: not
// quiet and stderr is a terminal.
func progressWriter(quiet bool, stderr io.Writer) io.Writer {
	if quiet {
		return nil
	}
	f, ok := stderr.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return stderr
}

// cliLogger is the default logger under --verbose or RX_DEBUG, and silent
// otherwise. Failures reach the user through the command's own error output.
func cliLogger() logger.Logger {
	if logger.DebugEnabled() {
		return logger.Default()
	}
	return logger.Noop()
}
