// Package ui provides the styled terminal output helpers used by the sb
// commands. Styling is disabled automatically when stdout is not a TTY.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	styled = term.IsTerminal(int(os.Stdout.Fd()))
)

// ForcePlain disables styling regardless of TTY detection (used by
// --no-color and tests).
func ForcePlain() { styled = false }

// RenderAccent highlights a heading or identifier.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass marks success output.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn marks warning output.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderErr marks failure output.
func RenderErr(s string) string { return render(errStyle, s) }

// RenderMuted dims secondary output.
func RenderMuted(s string) string { return render(mutedStyle, s) }

func render(style lipgloss.Style, s string) string {
	if !styled {
		return s
	}
	return style.Render(s)
}

// Glyphs used consistently across commands.
const (
	GlyphPass = "✓"
	GlyphWarn = "!"
	GlyphFail = "✗"
	GlyphDot  = "•"
)
