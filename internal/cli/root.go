package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rileyhilliard/rx/internal/errors"
	"github.com/rileyhilliard/rx/internal/logger"
	"github.com/rileyhilliard/rx/internal/ui"
	"github.com/rileyhilliard/rx/pkg/sshutil"
	"github.com/spf13/cobra"
)

// Global flags
var (
	cfgFile string
	verbose bool
	quiet   bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "rx",
	Short: "Run commands on a remote host over one persistent SSH session",
	Long: `rx runs shell commands on a remote host and reports their output,
stderr, and exit status as one block of text.

Commands share a single SSH connection that is opened on first use and
reopened after it drops. Commands that need an interactive terminal (bare
vim, sudo without -n, a REPL) are refused before anything is sent.

Examples:
  rx exec "uname -a"
  rx exec --timeout 5m "make test"
  rx batch commands.txt --parallel 4
  rx classify "sudo"`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.ConfigureColor(noColor, cmd.ErrOrStderr())
		logger.SetDebug(verbose)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: .rx.yaml, searched upward)")
	addTargetFlags(rootCmd, &targetFlags)
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")
	pf.BoolVarP(&quiet, "quiet", "q", false, "suppress progress output and hints")
	pf.BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command and exits with its status. SIGINT and
// SIGTERM cancel the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	sshutil.CloseAgent()
	os.Exit(handleError(err, os.Stderr))
}

// Quiet reports whether --quiet was given.
func Quiet() bool {
	return quiet
}

// handleError prints err to w and maps it to a process exit status. An
// ExitError carries its own status and prints nothing.
func handleError(err error, w io.Writer) int {
	if err == nil {
		return 0
	}
	if code, ok := errors.GetExitCode(err); ok {
		return code
	}
	if isUnknownCommandError(err) {
		fmt.Fprintf(w, "%s\nRun 'rx --help' for usage.\n", err)
		return 2
	}
	fmt.Fprint(w, ui.Failure(err))
	return 1
}

// isUnknownCommandError matches cobra's usage errors, which carry no code.
func isUnknownCommandError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") ||
		strings.HasPrefix(msg, "unknown flag") ||
		strings.HasPrefix(msg, "unknown shorthand flag")
}
