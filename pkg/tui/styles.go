package tui

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	agentStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	toolNameStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	jsonStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	printStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("118"))
	hintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)
