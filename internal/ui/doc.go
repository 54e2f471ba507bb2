// Package ui provides the terminal output pieces of the rx CLI.
//
// # Components Overview
//
//	Spinner       - Animated "Connecting to ..." indicator on stderr
//	HostPicker    - Bubble Tea list of ~/.ssh/config aliases for rx init
//	Report styles - Command headers, verdicts, and labeled failures
//
// # Color Scheme
//
// Colors are ANSI codes for broad terminal compatibility:
//
//	ColorSuccess   (green)  - Successful operations
//	ColorError     (red)    - Failures and rejections
//	ColorWarning   (yellow) - Timeouts and hints
//	ColorInfo      (cyan)   - Command headers
//	ColorMuted     (gray)   - Secondary text, timing info
//
// Call ConfigureColor(noColor) once at startup. It honors --no-color,
// NO_COLOR, and non-terminal output by switching lipgloss to the Ascii
// profile.
//
// # Spinner Usage
//
//	s := ui.NewSpinner("Connecting to build-box", os.Stderr)
//	s.Start()
//	// ... dial ...
//	s.Success() // or s.Fail()
package ui
