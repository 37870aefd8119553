package reports

import (
	"fmt"
	"strings"

	"github.com/llm-bench/llm-bench/pkg/models"
)

// Markdown renders the scoreboard as a markdown document
func Markdown(board models.Scoreboard) string {
	var sb strings.Builder

	sb.WriteString("# Scoreboard\n\n")

	if len(board) == 0 {
		sb.WriteString("No completed runs.\n")
		return sb.String()
	}

	writeBest(&sb, board)

	hdr := headers()
	sb.WriteString("| " + strings.Join(hdr, " | ") + " |\n")
	sep := make([]string, len(hdr))
	for i, h := range hdr {
		sep[i] = strings.Repeat("-", len(h))
	}
	sb.WriteString("|" + strings.Join(sep, "|") + "|\n")

	for _, e := range board {
		cells := row(e)
		for i, c := range cells {
			cells[i] = strings.ReplaceAll(c, "|", `\|`)
		}
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}

	return sb.String()
}

func writeBest(sb *strings.Builder, board models.Scoreboard) {
	var bestScore, fastest *models.ScoreboardEntry
	for i := range board {
		e := &board[i]
		if e.MeanScore != nil && (bestScore == nil || *e.MeanScore > *bestScore.MeanScore) {
			bestScore = e
		}
		if e.P50LatencyS != nil && (fastest == nil || *e.P50LatencyS < *fastest.P50LatencyS) {
			fastest = e
		}
	}

	if bestScore == nil && fastest == nil {
		return
	}
	if bestScore != nil {
		sb.WriteString(fmt.Sprintf("- **Best mean score**: %s (%.3f)\n", bestScore.Run, *bestScore.MeanScore))
	}
	if fastest != nil {
		sb.WriteString(fmt.Sprintf("- **Lowest p50 latency**: %s (%.3fs)\n", fastest.Run, *fastest.P50LatencyS))
	}
	sb.WriteString("\n")
}
