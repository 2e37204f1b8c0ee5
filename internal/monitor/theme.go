package monitor

import "github.com/charmbracelet/lipgloss"

type Theme struct {
	Title   lipgloss.Style
	Heading lipgloss.Style
	Header  lipgloss.Style
	Clock   lipgloss.Style
	Help    lipgloss.Style
	Error   lipgloss.Style
	Card    lipgloss.Style
}

func DefaultTheme() Theme {
	return Theme{
		Title:   lipgloss.NewStyle().Bold(true),
		Heading: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")),
		Header:  lipgloss.NewStyle().Faint(true),
		Clock:   lipgloss.NewStyle().Faint(true),
		Help:    lipgloss.NewStyle().Faint(true),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("160")),
		Card: lipgloss.NewStyle().
			Padding(0, 1).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")),
	}
}
