package cli

import "github.com/charmbracelet/lipgloss"

// Styled stderr output, adapting the teacher's internal/wizard lipgloss
// palette to plain (non-interactive) rendering: this engine has no TUI, so
// styles are applied to one-shot printed lines rather than a Bubbletea view.
var (
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	styleOK     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	styleFail   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	styleSubtle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)
