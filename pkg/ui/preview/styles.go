package preview

import "github.com/charmbracelet/lipgloss"

// theme groups reusable styles for preview UI regions.
type theme struct {
	header       lipgloss.Style
	headerMeta   lipgloss.Style
	divider      lipgloss.Style
	stageTitle   lipgloss.Style
	stageChanged lipgloss.Style
	stageSkipped lipgloss.Style
	stageText    lipgloss.Style
	resultBox    lipgloss.Style
	resultTitle  lipgloss.Style
	pinnedBox    lipgloss.Style
	pinnedTitle  lipgloss.Style
	errorBox     lipgloss.Style
	errorTitle   lipgloss.Style
	status       lipgloss.Style
	hint         lipgloss.Style
	inputLabel   lipgloss.Style
	input        lipgloss.Style
	viewport     lipgloss.Style
}

// defaultTheme shares the retro palette of the interactive terminal views.
func defaultTheme() theme {
	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("88")),
		headerMeta: lipgloss.NewStyle().
			Foreground(lipgloss.Color("223")),
		divider: lipgloss.NewStyle().
			Foreground(lipgloss.Color("130")),
		stageTitle: lipgloss.NewStyle().
			Bold(true).
			Width(11).
			Foreground(lipgloss.Color("180")),
		stageChanged: lipgloss.NewStyle().
			Bold(true).
			Width(11).
			Foreground(lipgloss.Color("114")),
		stageSkipped: lipgloss.NewStyle().
			Width(11).
			Foreground(lipgloss.Color("244")),
		stageText: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),
		resultBox: lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("44")).
			Background(lipgloss.Color("234")).
			Padding(0, 1),
		resultTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("44")).
			Padding(0, 1),
		pinnedBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("109")).
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1),
		pinnedTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("109")).
			Padding(0, 1),
		errorBox: lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("203")).
			Foreground(lipgloss.Color("203")).
			Background(lipgloss.Color("52")).
			Padding(0, 1),
		errorTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("231")).
			Background(lipgloss.Color("160")).
			Padding(0, 1),
		status: lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Bold(true),
		hint: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
		inputLabel: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")),
		input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("173")).
			Background(lipgloss.Color("236")).
			Padding(0, 1),
		viewport: lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("130")).
			Background(lipgloss.Color("233")).
			Padding(0, 1),
	}
}
