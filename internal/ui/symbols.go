package ui

// Unicode symbols for status indicators.
const (
	SymbolSuccess  = "✓" // Command exited 0
	SymbolFail     = "✗" // Failure or rejection
	SymbolPending  = "○" // Not started
	SymbolProgress = "◐" // In progress
	SymbolComplete = "●" // Connected
	SymbolWarning  = "!" // Non-zero exit, hint
)
