// Package display provides unified output formatting for the autopilot CLI.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/term"

	"github.com/daydemir/autopilot/internal/types"
)

// Display handles all CLI output with visual hierarchy
type Display struct {
	out       io.Writer
	theme     *Theme
	termWidth int
	noColor   bool
	now       func() time.Time
}

// NewWithOptions creates a Display with configuration
func NewWithOptions(noColor bool) *Display {
	return NewWithWriter(os.Stdout, noColor)
}

// NewWithWriter creates a Display writing to out. Non-terminal writers use the default width.
func NewWithWriter(out io.Writer, noColor bool) *Display {
	d := &Display{
		out:       out,
		termWidth: getTerminalWidth(out),
		noColor:   noColor,
		now:       time.Now,
	}
	if noColor {
		d.theme = NoColorTheme()
	} else {
		d.theme = DefaultTheme()
	}
	return d
}

// getTerminalWidth returns the terminal width, defaulting to 80
func getTerminalWidth(out io.Writer) int {
	f, ok := out.(*os.File)
	if !ok {
		return 80
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width < 40 {
		return 80
	}
	if width > 120 {
		return 120 // Cap at 120 for readability
	}
	return width
}

// Box prints a boxed message with a title
func (d *Display) Box(title string, lines ...string) {
	if len(lines) == 0 {
		return
	}

	width := d.termWidth - 2
	titleLen := len(title) + 4 // "─ TITLE "
	remainingWidth := width - titleLen
	if remainingWidth < 0 {
		remainingWidth = 0
	}

	// Top border: ┌─ TITLE ─────────────────────────┐
	topLine := BoxTopLeft + BoxHorizontal + " " + title + " " + strings.Repeat(BoxHorizontal, remainingWidth) + BoxTopRight
	fmt.Fprintln(d.out, d.theme.Border(topLine))

	for _, line := range lines {
		paddedLine := d.padRight(line, width-2)
		fmt.Fprintln(d.out, d.theme.Border(BoxVertical)+" "+d.theme.Text(paddedLine)+" "+d.theme.Border(BoxVertical))
	}

	bottomLine := BoxBottomLeft + strings.Repeat(BoxHorizontal, width) + BoxBottomRight
	fmt.Fprintln(d.out, d.theme.Border(bottomLine))
}

// Status prints a single-line status message (no box)
func (d *Display) Status(symbol, message string) {
	timestamp := d.now().Format("[15:04:05]")
	fmt.Fprintf(d.out, "%s %s %s\n",
		d.theme.Border(timestamp),
		symbol,
		d.theme.Text(message))
}

// Success prints a success message with green checkmark
func (d *Display) Success(message string) {
	d.Status(d.theme.Success(SymbolSuccess), message)
}

// Error prints an error message with red X
func (d *Display) Error(message string) {
	d.Status(d.theme.Error(SymbolError), message)
}

// Warning prints a warning message with yellow triangle
func (d *Display) Warning(message string) {
	d.Status(d.theme.Warning(SymbolWarning), message)
}

// Info prints an info message with cyan indicator
func (d *Display) Info(label, message string) {
	d.Status(d.theme.Info(label+":"), message)
}

// Resume prints a retry/resume message with cyan arrow
func (d *Display) Resume(message string) {
	d.Status(d.theme.Info(SymbolResume), message)
}

// Detail prints an indented detail line under the previous status line
func (d *Display) Detail(message string) {
	fmt.Fprintf(d.out, "%s%s\n", Indent, d.theme.Dim(message))
}

// SectionBreak prints a horizontal separator for phase boundaries
func (d *Display) SectionBreak() {
	fmt.Fprintln(d.out, d.theme.Separator(strings.Repeat(SectionBreak, d.termWidth)))
}

// RunHeader prints the run banner
func (d *Display) RunHeader(runID string, phases int) {
	fmt.Fprintln(d.out, d.theme.Bold("=== Autopilot Run ==="))
	fmt.Fprintf(d.out, "Run %s, %d phases\n\n", d.theme.Dim(runID), phases)
}

// PhaseStart prints the phase banner with progress
func (d *Display) PhaseStart(current, total int, phase *types.PhaseSpec, resumeAttempt int) {
	d.SectionBreak()
	line := fmt.Sprintf("Phase %d/%d: %s  %s", current, total, d.theme.Info(phase.ID), Truncate(phase.Description, 60))
	fmt.Fprintln(d.out, line)
	if resumeAttempt > 0 {
		fmt.Fprintf(d.out, "%sresuming at attempt %d\n", Indent, resumeAttempt+1)
	}
	d.SectionBreak()
}

// PhaseSkipped prints a phase that is already complete
func (d *Display) PhaseSkipped(phaseID string) {
	d.Status(d.theme.Dim(SymbolSuccess), phaseID+" already complete, skipping")
}

// Attempt prints the outcome of one attempt
func (d *Display) Attempt(attempt, max int, result types.PhaseResult, status, reason string) {
	label := fmt.Sprintf("attempt %d/%d", attempt+1, max)
	switch result {
	case types.PhaseComplete:
		d.Success(label + " complete")
	case types.PhaseReplanRequested:
		d.Resume(fmt.Sprintf("%s replan requested: %s", label, reason))
	case types.PhaseBlocked:
		d.Status(d.theme.Warning(SymbolBlocked), fmt.Sprintf("%s blocked: %s", label, reason))
	default:
		if status == reason || reason == "" {
			d.Warning(fmt.Sprintf("%s failed: %s", label, status))
		} else {
			d.Warning(fmt.Sprintf("%s failed: %s (%s)", label, status, reason))
		}
	}
}

// RunComplete prints the completion message
func (d *Display) RunComplete(completed, skipped int) {
	fmt.Fprintf(d.out, "\n%s All phases complete!\n", d.theme.Success(SymbolSuccess))
	fmt.Fprintf(d.out, "%s%d phases completed, %d already done.\n", Indent, completed, skipped)
}

// RunStopped prints the stop message for a phase that ended the run
func (d *Display) RunStopped(phaseID string, result types.PhaseResult, reason string, completed int) {
	symbol := d.theme.Error(SymbolError)
	if result == types.PhaseBlocked {
		symbol = d.theme.Warning(SymbolBlocked)
	}
	fmt.Fprintf(d.out, "\n%s %s: %s\n", symbol, result, phaseID)
	if reason != "" {
		fmt.Fprintf(d.out, "%sReason: %s\n", Indent, reason)
	}
	fmt.Fprintf(d.out, "\nStopping run. %d phases complete.\n", completed)
	fmt.Fprintln(d.out, "Run 'autopilot status' and 'autopilot journal' for details.")
}

// Counters prints run-level counters
func (d *Display) Counters(failures, doctorCalls, replans, http500 int, tokens int) {
	fmt.Fprintf(d.out, "%sfailures: %d  doctor calls: %d  replans: %d  http 500s: %d  tokens: %d\n",
		Indent, failures, doctorCalls, replans, http500, tokens)
}

// Duration prints execution duration
func (d *Display) Duration(dur time.Duration) {
	fmt.Fprintf(d.out, "%sDuration: %s\n", Indent, dur.Round(time.Second))
}

// PhaseRecords prints the persisted state of each phase
func (d *Display) PhaseRecords(phases []types.PhaseSpec, records map[string]types.PhaseRecord) {
	for _, p := range phases {
		rec, ok := records[p.ID]
		if !ok {
			fmt.Fprintf(d.out, "%s %-24s %s\n", d.theme.Dim(SymbolPending), p.ID, d.theme.Dim("pending"))
			continue
		}
		fmt.Fprintf(d.out, "%s %-24s %-12s attempt %d  epoch %d\n",
			d.statusSymbol(rec.Status), p.ID, rec.Status, rec.RetryAttempt, rec.RevisionEpoch)
		if rec.FailureReason != "" {
			d.Detail(rec.FailureReason)
		} else if rec.LastFailureReason != "" && rec.Status != types.StatusComplete {
			d.Detail("last failure: " + rec.LastFailureReason)
		}
	}
}

// JournalEntry prints one debug-journal entry
func (d *Display) JournalEntry(e types.JournalEntry) {
	fmt.Fprintf(d.out, "%s %s %s %s\n",
		d.theme.Dim(e.RecordedAt.Format(time.RFC3339)),
		d.theme.Error(e.Priority.String()),
		d.theme.Info(e.PhaseID),
		e.ErrorSignature)
	d.Detail("symptom: " + Truncate(e.Symptom, d.termWidth-16))
	d.Detail("cause:   " + Truncate(e.SuspectedCause, d.termWidth-16))
	d.Detail("run:     " + e.RunID)
}

func (d *Display) statusSymbol(s types.Status) string {
	switch s {
	case types.StatusComplete:
		return d.theme.Success(SymbolSuccess)
	case types.StatusFailed:
		return d.theme.Error(SymbolError)
	case types.StatusInProgress:
		return d.theme.Warning(SymbolPartial)
	default:
		return d.theme.Dim(SymbolPending)
	}
}

// Theme returns the current theme for external use
func (d *Display) Theme() *Theme {
	return d.theme
}

// padRight pads a string to the specified width
func (d *Display) padRight(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if len(s) >= width {
		return s[:runeStart(s, width)]
	}
	return s + strings.Repeat(" ", width-len(s))
}

// Truncate truncates text to max bytes with ellipsis, never splitting a rune
func Truncate(s string, max int) string {
	s = CleanText(s)
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:runeStart(s, max)]
	}
	return s[:runeStart(s, max-3)] + "..."
}

func runeStart(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// CleanText removes newlines and collapses spaces
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return strings.TrimSpace(s)
}
