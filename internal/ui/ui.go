package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#DC2626")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#CA8A04"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#16A34A"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Italic(true)
	boldStyle    = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
)

// FormatError returns a styled multi-line error message.
func FormatError(title, detail, suggestion string) string {
	out := errorStyle.Render("Error: "+title) + "\n"
	if detail != "" {
		out += "  " + detail + "\n"
	}
	if suggestion != "" {
		out += "  " + hintStyle.Render("Hint: "+suggestion) + "\n"
	}
	return out
}

// FormatStageError renders a fatal bootstrap diagnostic naming the stage
// and, when known, the host.
func FormatStageError(stage, host string, err error, suggestion string) string {
	title := "bootstrap failed at " + stage
	if host != "" {
		title += " (host " + host + ")"
	}
	return FormatError(title, err.Error(), suggestion)
}

// Success prints a green success message.
func Success(w io.Writer, msg string) {
	fmt.Fprintln(w, successStyle.Render(msg))
}

// Warn prints a yellow warning message.
func Warn(w io.Writer, msg string) {
	fmt.Fprintln(w, warnStyle.Render("Warning: "+msg))
}

// Bold renders text in bold.
func Bold(s string) string {
	return boldStyle.Render(s)
}

// Dim renders secondary text.
func Dim(s string) string {
	return dimStyle.Render(s)
}

// HostOK prints a green check for a host that finished a stage.
func HostOK(w io.Writer, host, detail string) {
	fmt.Fprintf(w, "  %s %s", successStyle.Render("OK "), host)
	if detail != "" {
		fmt.Fprintf(w, " %s", dimStyle.Render(detail))
	}
	fmt.Fprintln(w)
}

// HostExcluded prints a red marker and the reason a host was dropped.
func HostExcluded(w io.Writer, host string, reason error) {
	fmt.Fprintf(w, "  %s %s: %v\n", errorStyle.Render("ERR"), host, reason)
}
