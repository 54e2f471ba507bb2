package batch

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/rx/internal/engine"
	"github.com/rileyhilliard/rx/internal/ui"
	"github.com/rileyhilliard/rx/internal/util"
)

// RenderItem writes one command's report: a "$ command" header, then the
// rendered result or the labeled failure.
func RenderItem(w io.Writer, r ItemResult) {
	fmt.Fprintln(w, ui.CommandHeader(r.Command))
	switch {
	case r.Skipped:
		fmt.Fprintln(w, lipgloss.NewStyle().Foreground(ui.ColorMuted).Render("(skipped after an earlier failure)"))
	case r.Error != nil:
		fmt.Fprintln(w, engine.RenderError(r.Error))
	default:
		fmt.Fprintln(w, engine.Render(r.Result))
	}
	fmt.Fprintln(w)
}

// RenderSummaryTo prints a formatted summary of the batch to w.
func RenderSummaryTo(w io.Writer, result *Result) {
	if result == nil {
		return
	}

	successStyle := lipgloss.NewStyle().Foreground(ui.ColorSuccess)
	errorStyle := lipgloss.NewStyle().Foreground(ui.ColorError)
	mutedStyle := lipgloss.NewStyle().Foreground(ui.ColorMuted)
	headerStyle := lipgloss.NewStyle().Foreground(ui.ColorSecondary).Bold(true)

	divider := mutedStyle.Render(strings.Repeat("─", 60))

	fmt.Fprintln(w, divider)

	failedStyle := mutedStyle
	if result.Failed > 0 {
		failedStyle = errorStyle
	}
	fmt.Fprintf(w, "  %s %d passed  %s %d failed  %s %d total  %s\n",
		successStyle.Render(ui.SymbolSuccess),
		result.Passed,
		failedStyle.Render(ui.SymbolFail),
		result.Failed,
		mutedStyle.Render(ui.SymbolComplete),
		len(result.Items),
		mutedStyle.Render(fmt.Sprintf("(%s)", ui.FormatDuration(result.Duration))),
	)
	if result.Skipped > 0 {
		fmt.Fprintf(w, "  %s\n", mutedStyle.Render(fmt.Sprintf("%d %s skipped",
			result.Skipped, util.Pluralize(result.Skipped, "command", "commands"))))
	}

	if result.Failed > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render("Retry Failed Commands:"))
		fmt.Fprintln(w)
		for i := range result.Items {
			item := &result.Items[i]
			if item.Skipped || item.Success() {
				continue
			}
			fmt.Fprintf(w, "  %s rx exec %s  %s\n",
				mutedStyle.Render("$"),
				util.ShellQuote(item.Command),
				mutedStyle.Render("# "+failureReason(item)),
			)
		}
	}

	fmt.Fprintln(w, divider)
}

// FormatBriefSummary returns a one-line summary string.
func FormatBriefSummary(result *Result) string {
	if result == nil {
		return "No results"
	}

	total := len(result.Items)
	if result.Failed == 0 && result.Skipped == 0 {
		return fmt.Sprintf("%d/%d commands passed (%s)",
			result.Passed, total, ui.FormatDuration(result.Duration))
	}

	return fmt.Sprintf("%d passed, %d failed of %d commands (%s)",
		result.Passed, result.Failed, total, ui.FormatDuration(result.Duration))
}

func failureReason(item *ItemResult) string {
	if item.Error != nil {
		return engine.RenderError(item.Error)
	}
	if item.Result.ExitSignal != "" {
		return "signal " + item.Result.ExitSignal
	}
	return fmt.Sprintf("exit %d", item.Result.ExitCode)
}
