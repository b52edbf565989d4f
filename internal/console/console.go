// Package console provides the small amount of terminal output the CLI does
// itself: colored status tags around command runs and the clear-screen
// sequence used between runs.
package console

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// OK returns the message prefixed with a green [OK] tag.
func OK(msg string) string {
	return fmt.Sprintf("%s %s", okStyle.Render("[OK]"), msg)
}

// Warn returns the message prefixed with a yellow [WARN] tag.
func Warn(msg string) string {
	return fmt.Sprintf("%s %s", warnStyle.Render("[WARN]"), msg)
}

// Fail returns the message prefixed with a red [FAIL] tag.
func Fail(msg string) string {
	return fmt.Sprintf("%s %s", failStyle.Render("[FAIL]"), msg)
}

// Dim returns the message in the terminal's dim color.
func Dim(msg string) string {
	return dimStyle.Render(msg)
}

// Clear writes the ANSI erase-display and cursor-home sequences to w.
func Clear(w io.Writer) {
	fmt.Fprint(w, "\x1b[2J\x1b[H")
}
