package display

import "github.com/fatih/color"

// Box drawing characters
const (
	BoxTopLeft     = "┌"
	BoxTopRight    = "┐"
	BoxBottomLeft  = "└"
	BoxBottomRight = "┘"
	BoxHorizontal  = "─"
	BoxVertical    = "│"
	SectionBreak   = "━"
)

// Status symbols
const (
	SymbolSuccess = "✓"
	SymbolError   = "✗"
	SymbolWarning = "⚠"
	SymbolResume  = "↻"
	SymbolPending = "○"
	SymbolPartial = "◐"
	SymbolBlocked = "■"
)

// Indent is the indentation for detail lines under a status line
const Indent = "   "

// Theme holds all color functions for consistent styling
type Theme struct {
	// Orchestration output (prominent)
	Border func(a ...any) string
	Label  func(a ...any) string
	Text   func(a ...any) string

	// Status indicators
	Success func(a ...any) string
	Error   func(a ...any) string
	Warning func(a ...any) string
	Info    func(a ...any) string

	// Structural elements
	Bold      func(a ...any) string
	Dim       func(a ...any) string
	Separator func(a ...any) string
}

// DefaultTheme creates the default color theme
func DefaultTheme() *Theme {
	return &Theme{
		Border: color.New(color.FgCyan).SprintFunc(),
		Label:  color.New(color.FgCyan, color.Bold).SprintFunc(),
		Text:   color.New(color.FgWhite).SprintFunc(),

		Success: color.New(color.FgGreen).SprintFunc(),
		Error:   color.New(color.FgRed).SprintFunc(),
		Warning: color.New(color.FgYellow).SprintFunc(),
		Info:    color.New(color.FgCyan).SprintFunc(),

		Bold:      color.New(color.Bold).SprintFunc(),
		Dim:       color.New(color.FgHiBlack).SprintFunc(),
		Separator: color.New(color.FgCyan).SprintFunc(),
	}
}

// NoColorTheme creates a theme without colors (for --no-color flag or non-TTY)
func NoColorTheme() *Theme {
	identity := func(a ...any) string {
		if len(a) == 0 {
			return ""
		}
		if s, ok := a[0].(string); ok {
			return s
		}
		return ""
	}
	return &Theme{
		Border:    identity,
		Label:     identity,
		Text:      identity,
		Success:   identity,
		Error:     identity,
		Warning:   identity,
		Info:      identity,
		Bold:      identity,
		Dim:       identity,
		Separator: identity,
	}
}
