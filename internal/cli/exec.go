package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rileyhilliard/rx/internal/config"
	"github.com/rileyhilliard/rx/internal/engine"
	"github.com/rileyhilliard/rx/internal/errors"
	"github.com/rileyhilliard/rx/internal/ui"
	"github.com/rileyhilliard/rx/internal/wrapper"
	"github.com/rileyhilliard/rx/pkg/sshutil"
	"github.com/spf13/cobra"
)

var (
	execTimeoutFlag string
	execDryRun      bool
)

// execCmd runs one command on the remote host
var execCmd = &cobra.Command{
	Use:   "exec [command]",
	Short: "Run one command on the remote host",
	Long: `Run a command on the remote host and print its report:
stdout, then stderr under a STDERR: header, then the exit code.

The command runs through the remote user's login shell, so pipes,
redirects, and globs work. It is refused before connecting when it needs
an interactive terminal.

Examples:
  rx exec "ls -la"
  rx exec --timeout 10m "make test"
  rx exec --dry-run "sudo systemctl restart app"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, err := parseTimeout(execTimeoutFlag)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return execCommand(cmd.Context(), cfg, execOptions{
			Command: strings.Join(args, " "),
			Timeout: timeout,
			DryRun:  execDryRun,
			Quiet:   Quiet(),
		}, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	execCmd.Flags().StringVar(&execTimeoutFlag, "timeout", "", "deadline for the command (default from config, e.g. 30s, 5m)")
	execCmd.Flags().BoolVar(&execDryRun, "dry-run", false, "show the filter verdict and composed command without connecting")
	rootCmd.AddCommand(execCmd)
}

// execOptions holds options for execCommand.
type execOptions struct {
	Command string
	Timeout time.Duration
	DryRun  bool
	Quiet   bool

	dialer sshutil.Dialer
}

// execCommand runs one command and writes its report to stdout. A remote
// non-zero exit becomes an ExitError with the same status.
func execCommand(ctx context.Context, cfg *config.Config, opts execOptions, stdout, stderr io.Writer) error {
	if opts.DryRun {
		return dryRun(cfg, opts.Command, stdout)
	}

	s, err := openSession(cfg, sessionOptions{
		dialer:   opts.dialer,
		progress: progressWriter(opts.Quiet, stderr),
	})
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.engine.Run(ctx, opts.Command, opts.Timeout)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, engine.Render(res))

	if !opts.Quiet {
		if hint := engine.Diagnose(res, opts.Command, cfg.Wrapper); hint != nil {
			fmt.Fprint(stderr, "\n"+ui.Hint(hint))
		}
	}

	return exitStatus(res)
}

// dryRun prints what exec would do without touching the network.
func dryRun(cfg *config.Config, command string, w io.Writer) error {
	if strings.TrimSpace(command) == "" {
		return errors.NewRejected("")
	}
	if err := wrapper.Validate(cfg.Wrapper); err != nil {
		return err
	}

	e := engine.New(nil,
		engine.WithPolicy(cfg.SafetyPolicy()),
		engine.WithWrapper(cfg.Wrapper))
	v, composed := e.Plan(command)

	printVerdict(w, command, v)
	if !v.Allowed {
		return errors.NewExitError(1)
	}

	fmt.Fprintln(w, ui.Field("would run", composed))
	if cfg.Host != "" {
		fmt.Fprintln(w, ui.Field("on", cfg.Target().String()))
	}
	return nil
}

// exitStatus maps a finished command to rx's own exit status.
func exitStatus(res *engine.Result) error {
	switch {
	case res.ExitSignal != "":
		return errors.NewExitError(1)
	case res.ExitCode != 0:
		return errors.NewExitError(res.ExitCode)
	default:
		return nil
	}
}
