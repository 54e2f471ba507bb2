package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error codes for categorizing errors
const (
	ErrConfig   = "CONFIG"
	ErrSSH      = "SSH" // could not establish or reuse the connection
	ErrExec     = "EXEC"
	ErrRejected = "REJECTED"
	ErrTimeout  = "TIMEOUT"
	ErrStream   = "STREAM"
)

// Error represents a structured error with code, message, suggestion, and optional cause.
// Rendered as:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error

	// Program is the rejected program name for ErrRejected errors.
	Program string
	// Deadline is the exceeded deadline for ErrTimeout errors.
	Deadline time.Duration
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// NewRejected reports a command refused by the interactive-command filter.
func NewRejected(program string) *Error {
	msg := fmt.Sprintf("'%s' needs an interactive terminal", program)
	if program == "" {
		msg = "Nothing to run"
	}
	return &Error{
		Code:       ErrRejected,
		Message:    msg,
		Suggestion: "Pass arguments or non-interactive flags (e.g. 'sudo -n', 'python script.py', 'less file | cat').",
		Program:    program,
	}
}

// NewTimeout reports a command that ran past its deadline.
func NewTimeout(deadline time.Duration) *Error {
	return &Error{
		Code:       ErrTimeout,
		Message:    fmt.Sprintf("Command didn't finish within %s", deadline),
		Suggestion: "The command was aborted. Raise the timeout or run the command in the background (nohup ... &).",
		Deadline:   deadline,
	}
}

// WrapConnection reports a failure to establish or reuse the SSH connection.
func WrapConnection(err error, target, suggestion string) *Error {
	return WrapWithCode(err, ErrSSH,
		fmt.Sprintf("Couldn't connect to '%s'", target),
		suggestion)
}

// WrapExec reports a failure to submit a command on a live connection.
func WrapExec(err error, cmd string) *Error {
	return WrapWithCode(err, ErrExec,
		fmt.Sprintf("Failed to start command: %s", cmd),
		"Connection may have been closed. The next command reconnects.")
}

// WrapStream reports a transport failure while output was being collected.
func WrapStream(err error) *Error {
	return WrapWithCode(err, ErrStream,
		"Lost the output stream mid-command",
		"The command may still be running remotely. The next command reconnects.")
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	// First line: failure symbol + main message
	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Label returns the short human label for the error's code.
func (e *Error) Label() string {
	switch e.Code {
	case ErrRejected:
		return "Rejected"
	case ErrSSH:
		return "Connection error"
	case ErrExec:
		return "Execution error"
	case ErrTimeout:
		return "Timeout"
	case ErrStream:
		return "Stream error"
	case ErrConfig:
		return "Config error"
	default:
		return "Error"
	}
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var rxErr *Error
	if errors.As(err, &rxErr) {
		return rxErr.Code == code
	}
	return false
}

// ExitError signals a specific process exit status without printing anything extra.
type ExitError struct {
	Code int
}

// NewExitError creates an ExitError with the given status.
func NewExitError(code int) *ExitError {
	return &ExitError{Code: code}
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// GetExitCode extracts the status from an ExitError anywhere in the chain.
func GetExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
