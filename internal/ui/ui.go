// Package ui provides terminal styling helpers for CLI output.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// Plain disables all styling, used when output is not a terminal.
func Plain() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// RenderPass styles text as a success indicator.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderFail styles text as a failure indicator.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderWarn styles text as a warning indicator.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderAccent styles text with the accent color.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderDim styles text as secondary detail.
func RenderDim(s string) string { return dimStyle.Render(s) }
