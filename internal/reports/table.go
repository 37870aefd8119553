package reports

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/llm-bench/llm-bench/pkg/models"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	emptyStyle  = lipgloss.NewStyle().Faint(true)
)

// Table renders the scoreboard as a bordered terminal table
func Table(board models.Scoreboard) string {
	if len(board) == 0 {
		return emptyStyle.Render("No completed runs.")
	}

	rows := make([][]string, 0, len(board))
	for _, e := range board {
		rows = append(rows, row(e))
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(r, c int) lipgloss.Style {
			switch {
			case r == table.HeaderRow:
				return headerStyle
			case c == 0:
				return cellStyle
			default:
				return numberStyle
			}
		}).
		Headers(headers()...).
		Rows(rows...)

	return t.Render()
}
