package ui

import "github.com/charmbracelet/lipgloss"

type Styles struct {
	Header    lipgloss.Style
	Muted     lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Source    lipgloss.Style
	Error     lipgloss.Style
	ErrorBox  lipgloss.Style
	Input     lipgloss.Style
	Status    lipgloss.Style
}

func DefaultStyles() Styles {
	red := lipgloss.Color("196")
	accent := lipgloss.Color("63")
	grey := lipgloss.Color("240")

	return Styles{
		Header:    lipgloss.NewStyle().Bold(true).Foreground(accent),
		Muted:     lipgloss.NewStyle().Foreground(grey),
		User:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		Source:    lipgloss.NewStyle().Italic(true).Foreground(grey),
		Error:     lipgloss.NewStyle().Bold(true).Foreground(red),
		ErrorBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(red).
			Padding(0, 1),
		Input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1),
		Status: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}
}
