package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"

	"talk-pdf/internal/domain"
	"talk-pdf/internal/session"
)

var (
	styleRed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleGreen  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleYellow = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleCyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleBold   = lipgloss.NewStyle().Bold(true)
)

func colorize(style lipgloss.Style, text string) string {
	if noColor {
		return text
	}
	return style.Render(text)
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(styleGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(styleRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(styleYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(styleBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(styleCyan, "→ "+msg))
}

// printRows writes a transcript in reading order.
func printRows(w io.Writer, rows []session.Row) {
	if len(rows) == 0 {
		fmt.Fprintln(w, colorize(styleDim, "No messages yet."))
		return
	}
	for _, r := range rows {
		printRow(w, r)
	}
}

func printRow(w io.Writer, r session.Row) {
	fmt.Fprintf(w, "%s %s\n", colorize(styleBold, "You:"), r.Question)
	if r.Failed {
		fmt.Fprintf(w, "%s %s\n\n", colorize(styleRed, "Error:"), r.Answer)
		return
	}
	fmt.Fprintf(w, "%s %s\n\n", colorize(styleCyan, "Gemini:"), r.Answer)
}

// printConversations lists conversations with 1-based indexes, marking the
// active one.
func printConversations(w io.Writer, convs []domain.Conversation, active string) {
	if len(convs) == 0 {
		fmt.Fprintln(w, colorize(styleDim, "No conversations. Start one with \"talkpdf new\"."))
		return
	}
	for i, c := range convs {
		marker := " "
		if c.ID == active {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %2d. %s  %s  %s\n", marker, i+1, c.Title,
			colorize(styleDim, c.CreatedAt.Local().Format("2006-01-02 15:04")),
			colorize(styleDim, c.ID))
	}
}
