// Package batch runs a list of commands through one engine, several at a time,
// and reports them in input order.
package batch

import (
	"context"
	"time"

	"github.com/rileyhilliard/rx/internal/engine"
)

// Runner executes one command. *engine.Engine implements it.
type Runner interface {
	Run(ctx context.Context, command string, deadline time.Duration) (*engine.Result, error)
}

// Config holds configuration for a batch.
type Config struct {
	MaxParallel int           // Max concurrent commands (<1 means 1)
	FailFast    bool          // Stop starting new commands after a failure
	Timeout     time.Duration // Per-command deadline (0 = engine default)
}

// DefaultConfig runs one command at a time with the engine's default deadline.
func DefaultConfig() Config {
	return Config{MaxParallel: 1}
}

// Result holds the aggregate result of a batch.
type Result struct {
	Items    []ItemResult  // One per command, in input order
	Duration time.Duration // Total wall-clock time
	Passed   int
	Failed   int
	Skipped  int
}

// Success returns true if every command ran and exited 0.
func (r *Result) Success() bool {
	return r.Failed == 0 && r.Skipped == 0
}

// ItemResult is the outcome of one command in the batch.
type ItemResult struct {
	Index   int
	Command string

	// Exactly one of Result and Error is set, unless Skipped.
	Result *engine.Result
	Error  error

	Skipped  bool // Never started because an earlier command failed under FailFast
	Duration time.Duration
}

// Success returns true if the command ran and exited 0.
func (r *ItemResult) Success() bool {
	return !r.Skipped && r.Error == nil && r.Result != nil &&
		r.Result.ExitCode == 0 && r.Result.ExitSignal == ""
}
