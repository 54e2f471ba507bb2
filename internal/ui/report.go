package ui

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/rx/internal/errors"
)

// CommandHeader renders the "$ command" line printed above each batch report.
func CommandHeader(command string) string {
	prompt := lipgloss.NewStyle().Foreground(ColorMuted).Render("$")
	return prompt + " " + lipgloss.NewStyle().Foreground(ColorInfo).Bold(true).Render(command)
}

// StatusLine renders a one-line outcome, e.g. "✓ exit 0 · 0.3s".
func StatusLine(exitCode int, signal, elapsed string) string {
	symbol, color := SymbolSuccess, ColorSuccess
	if exitCode != 0 {
		symbol, color = SymbolWarning, ColorWarning
	}
	text := fmt.Sprintf("exit %d", exitCode)
	if signal != "" {
		text += " (" + signal + ")"
	}
	muted := lipgloss.NewStyle().Foreground(ColorMuted)
	return lipgloss.NewStyle().Foreground(color).Render(symbol+" "+text) + muted.Render(" · "+elapsed)
}

// Failure renders a labeled failure with its cause and suggestion indented
// underneath:
//
//	✗ Timeout: Command didn't finish within 5s
//
//	  The command was aborted. ...
func Failure(err error) string {
	var rxErr *errors.Error
	if !stderrors.As(err, &rxErr) {
		return lipgloss.NewStyle().Foreground(ColorError).Render(SymbolFail+" "+err.Error()) + "\n"
	}

	color := ColorError
	if rxErr.Code == errors.ErrTimeout || rxErr.Code == errors.ErrRejected {
		color = ColorWarning
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Foreground(color).Bold(true).
		Render(fmt.Sprintf("%s %s: %s", SymbolFail, rxErr.Label(), rxErr.Message)))
	b.WriteString("\n")

	muted := lipgloss.NewStyle().Foreground(ColorMuted)
	if rxErr.Cause != nil {
		b.WriteString("\n  " + muted.Render(rxErr.Cause.Error()) + "\n")
	}
	if rxErr.Suggestion != "" {
		b.WriteString("\n  " + rxErr.Suggestion + "\n")
	}
	return b.String()
}

// Hint renders a diagnostic that accompanies a finished command.
func Hint(e *errors.Error) string {
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Foreground(ColorWarning).Render(SymbolWarning + " " + e.Message))
	b.WriteString("\n")
	if e.Suggestion != "" {
		b.WriteString("\n  " + strings.ReplaceAll(e.Suggestion, "\n", "\n  ") + "\n")
	}
	return b.String()
}

// Field renders an aligned "key: value" line for status output.
func Field(key, value string) string {
	k := lipgloss.NewStyle().Foreground(ColorMuted).Width(16).Render(key + ":")
	return k + value
}
