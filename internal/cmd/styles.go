package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/greeter/internal/event"
)

// Colors
var (
	primaryColor   = lipgloss.Color("#A78BFA") // Purple
	secondaryColor = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#F87171") // Red
	mutedColor     = lipgloss.Color("#9CA3AF") // Gray
	blueColor      = lipgloss.Color("#60A5FA") // Blue
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	labelStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	valueStyle   = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(secondaryColor)
	warnStyle    = lipgloss.NewStyle().Foreground(warningColor)
	errStyle     = lipgloss.NewStyle().Foreground(errorColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)
)

// kindStyle colors an event kind.
func kindStyle(k event.Kind) lipgloss.Style {
	switch k {
	case event.Recognized:
		return okStyle
	case event.Unknown:
		return lipgloss.NewStyle().Foreground(blueColor)
	case event.Departed:
		return warnStyle
	default:
		return mutedStyle
	}
}

// termWidth returns the stdout width, or fallback when stdout is not a
// terminal.
func termWidth(fallback int) int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return fallback
}

// section renders a titled, bordered block of label/value rows sized to the
// terminal.
func section(title string, rows [][2]string) string {
	labelWidth := 0
	for _, r := range rows {
		labelWidth = max(labelWidth, lipgloss.Width(r[0]))
	}
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(title))
	for _, r := range rows {
		sb.WriteString("\n")
		sb.WriteString(labelStyle.Render(fmt.Sprintf("%-*s", labelWidth, r[0])))
		sb.WriteString("  ")
		sb.WriteString(valueStyle.Render(r[1]))
	}
	width := min(termWidth(80), 100) - 2
	return sectionStyle.Width(width).Render(sb.String())
}

// printEvent writes one event line.
func printEvent(w io.Writer, e event.Event) {
	ts := mutedStyle.Render(e.Timestamp.Format("15:04:05.000"))
	kind := kindStyle(e.Kind).Render(fmt.Sprintf("%-11s", strings.ToUpper(e.Kind.String())))
	switch e.Kind {
	case event.NoSubjects:
		fmt.Fprintf(w, "%s %s %s\n", ts, kind, mutedStyle.Render(fmt.Sprintf("cycle %d", e.Cycle)))
	case event.Departed:
		fmt.Fprintf(w, "%s %s %s %s\n", ts, kind, e.Subject, mutedStyle.Render(fmt.Sprintf("cycle %d", e.Cycle)))
	default:
		fmt.Fprintf(w, "%s %s %s %s\n", ts, kind, e.Subject,
			mutedStyle.Render(fmt.Sprintf("conf %.2f, cycle %d", e.Confidence, e.Cycle)))
	}
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}
