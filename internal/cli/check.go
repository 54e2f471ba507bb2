package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/rx/internal/config"
	"github.com/rileyhilliard/rx/internal/ui"
	"github.com/rileyhilliard/rx/pkg/sshutil"
	"github.com/spf13/cobra"
)

// checkCmd connects and reports on the session
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Connect to the remote host and report on the session",
	Long: `Open the SSH session rx would use and report the resolved address,
the server's version string, the connection state, and round-trip latency.

Useful after editing .rx.yaml or ~/.ssh/config.

Examples:
  rx check
  rx check --host build-box --user deploy`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return checkCommand(cmd.Context(), cfg, checkOptions{Quiet: Quiet()}, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// checkOptions holds options for checkCommand.
type checkOptions struct {
	Quiet bool

	dialer sshutil.Dialer
}

// pinger is implemented by connections that can measure a round trip without
// opening a channel. *sshutil.Client does so with a keepalive request.
type pinger interface {
	Alive() bool
}

// checkCommand connects once and prints what it found.
func checkCommand(ctx context.Context, cfg *config.Config, opts checkOptions, stdout, stderr io.Writer) error {
	s, err := openSession(cfg, sessionOptions{
		dialer:   opts.dialer,
		progress: progressWriter(opts.Quiet, stderr),
	})
	if err != nil {
		return err
	}
	defer s.Close()

	start := time.Now()
	sess, err := s.manager.Acquire(ctx)
	if err != nil {
		return err
	}
	connectTime := time.Since(start)

	okStyle := lipgloss.NewStyle().Foreground(ui.ColorSuccess)
	fmt.Fprintln(stdout, okStyle.Render(fmt.Sprintf("%s Connected to %s", ui.SymbolSuccess, s.target.String())))
	fmt.Fprintln(stdout, ui.Field("address", sess.Conn.Address()))
	fmt.Fprintln(stdout, ui.Field("server", sess.Conn.ServerVersion()))
	fmt.Fprintln(stdout, ui.Field("state", s.manager.State().String()))
	fmt.Fprintln(stdout, ui.Field("connect", ui.FormatDuration(connectTime)))
	if p, ok := sess.Conn.(pinger); ok {
		pingStart := time.Now()
		if p.Alive() {
			fmt.Fprintln(stdout, ui.Field("latency", time.Since(pingStart).Round(time.Microsecond).String()))
		}
	}
	fmt.Fprintln(stdout, ui.Field("timeout", fmt.Sprintf("%s (%s policy)", cfg.Timeout, cfg.TimeoutPolicy)))
	if cfg.Wrapper != "" {
		fmt.Fprintln(stdout, ui.Field("wrapper", cfg.Wrapper))
	}
	return nil
}
