package engine

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/rileyhilliard/rx/internal/errors"
)

// Result is the outcome of a command that ran to completion, whatever its
// exit status. It is built once and never modified.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// ExitSignal names the signal that terminated the command, if any.
	ExitSignal string

	RunID    string
	Duration time.Duration
}

// Render formats r as the single text report handed back to the caller:
//
//	<stdout>
//	STDERR:
//	<stderr>
//	(exit code: N)
//
// The STDERR block only appears when stderr is non-empty, and "(no output)"
// stands in when both streams are empty.
func Render(r *Result) string {
	var b strings.Builder

	b.WriteString(r.Stdout)
	if r.Stderr != "" {
		if r.Stdout != "" {
			b.WriteString("\n")
		}
		b.WriteString("STDERR:\n")
		b.WriteString(r.Stderr)
	}
	if r.Stdout == "" && r.Stderr == "" {
		b.WriteString("(no output)")
	}

	fmt.Fprintf(&b, "\n(exit code: %d", r.ExitCode)
	if r.ExitSignal != "" {
		fmt.Fprintf(&b, ", signal: %s", r.ExitSignal)
	}
	b.WriteString(")")

	return b.String()
}

// RenderError formats a failed run as a short labeled line, e.g.
// "Rejected: 'vim' needs an interactive terminal".
func RenderError(err error) string {
	if err == nil {
		return ""
	}
	var rxErr *errors.Error
	if !stderrors.As(err, &rxErr) {
		return "Error: " + err.Error()
	}

	msg := rxErr.Label() + ": " + rxErr.Message
	if rxErr.Cause != nil {
		msg += " (" + rxErr.Cause.Error() + ")"
	}
	return msg
}
