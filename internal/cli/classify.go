package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/rx/internal/errors"
	"github.com/rileyhilliard/rx/internal/safety"
	"github.com/rileyhilliard/rx/internal/ui"
	"github.com/spf13/cobra"
)

// classifyCmd reports the interactive-command filter's verdict
var classifyCmd = &cobra.Command{
	Use:   "classify [command]",
	Short: "Check whether a command may run non-interactively",
	Long: `Show whether rx would run a command or refuse it as interactive.
Nothing is sent to the remote host. Exits 1 when the command is refused.

The denylist can be adjusted in .rx.yaml under safety.deny and safety.allow.

Examples:
  rx classify vim
  rx classify "vim notes.txt"
  rx classify "sudo -n apt update"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return classifyCommand(cfg.SafetyPolicy(), strings.Join(args, " "), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

// classifyCommand prints the verdict for command under p.
func classifyCommand(p safety.Policy, command string, w io.Writer) error {
	v := p.Classify(command)
	printVerdict(w, command, v)
	if !v.Allowed {
		return errors.NewExitError(1)
	}
	return nil
}

// printVerdict renders a filter verdict:
//
//	✓ allowed: vim notes.txt
//	program:        vim
//	rule:           needs-args
func printVerdict(w io.Writer, command string, v safety.Verdict) {
	if v.Allowed {
		fmt.Fprintln(w, lipgloss.NewStyle().Foreground(ui.ColorSuccess).
			Render(ui.SymbolSuccess+" allowed: "+command))
	} else {
		fmt.Fprintln(w, lipgloss.NewStyle().Foreground(ui.ColorWarning).Bold(true).
			Render(ui.SymbolFail+" rejected: "+command))
	}

	if v.Program != "" {
		fmt.Fprintln(w, ui.Field("program", v.Program))
	}
	if v.Listed {
		fmt.Fprintln(w, ui.Field("rule", v.Rule.String()))
	}
	if v.Reason != "" {
		fmt.Fprintln(w, ui.Field("reason", v.Reason))
	}
}
