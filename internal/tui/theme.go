package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorBorder  = lipgloss.Color("#4b5563")
	colorDimmed  = lipgloss.Color("#6b7280")
	colorBright  = lipgloss.Color("#f9fafb")
	colorHealthy = lipgloss.Color("#22c55e")
	colorDanger  = lipgloss.Color("#dc2626")
	colorAccent  = lipgloss.Color("#5865f2")
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorBright).Background(colorAccent).Padding(0, 1)
	dimStyle      = lipgloss.NewStyle().Foreground(colorDimmed)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorBright)
	onlineStyle   = lipgloss.NewStyle().Foreground(colorHealthy)
	offlineStyle  = lipgloss.NewStyle().Foreground(colorDanger)
	panelStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorBorder).Padding(0, 1)
)
