package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Semantic colors for status indication
const (
	ColorSuccess lipgloss.Color = "2" // Green
	ColorError   lipgloss.Color = "1" // Red
	ColorWarning lipgloss.Color = "3" // Yellow
	ColorInfo    lipgloss.Color = "6" // Cyan
)

// Text colors for content hierarchy
const (
	ColorPrimary   lipgloss.Color = "7" // White/default
	ColorSecondary lipgloss.Color = "4" // Blue
	ColorMuted     lipgloss.Color = "8" // Gray (bright black)
)

// GradientColors cycle through the spinner frames.
var GradientColors = []lipgloss.Color{"205", "170", "135", "99", "63", "39", "45", "49"}

// ConfigureColor picks the lipgloss color profile for w. Colors are off when
// noColor is set, NO_COLOR is present, or w is not a terminal.
func ConfigureColor(noColor bool, w io.Writer) {
	if noColor || os.Getenv("NO_COLOR") != "" {
		DisableColors()
		return
	}
	lipgloss.SetColorProfile(termenv.NewOutput(w).EnvColorProfile())
}

// DisableColors switches to monochrome output.
func DisableColors() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// ColorsEnabled reports whether styled output emits ANSI colors.
func ColorsEnabled() bool {
	return lipgloss.ColorProfile() != termenv.Ascii
}
