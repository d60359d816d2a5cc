package ui

import "github.com/charmbracelet/lipgloss"

var (
	focusedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	blurredStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	titleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true).MarginLeft(2)
	gameInfoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("140")).MarginTop(1)
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Margin(1, 0)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	boardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("28")).
			Padding(0, 1)

	wallStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	emptyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
	deadStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	scoreboardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1).
			MarginLeft(2)

	countdownStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true).
			Padding(1, 4).
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("46"))

	winnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true).
			Padding(1, 2).
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("46"))
)

// playerStyle colors a snake head with the server assigned hex color.
func playerStyle(color string, self bool) lipgloss.Style {
	st := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
	if self {
		st = st.Bold(true)
	}
	return st
}
