package reports

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/llm-bench/llm-bench/pkg/models"
)

// Format selects a scoreboard rendering
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat accepts table, json, markdown (or md)
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want table, json or markdown)", name)
	}
}

// Render writes the scoreboard to w in the given format
func Render(w io.Writer, board models.Scoreboard, format Format) error {
	var out string
	switch format {
	case FormatJSON:
		data, err := JSON(board)
		if err != nil {
			return err
		}
		out = string(data) + "\n"
	case FormatMarkdown:
		out = Markdown(board)
	case FormatTable, "":
		out = Table(board) + "\n"
	default:
		return fmt.Errorf("unknown report format %q", format)
	}

	_, err := io.WriteString(w, out)
	return err
}

// JSON renders the scoreboard as an indented array in matrix order
func JSON(board models.Scoreboard) ([]byte, error) {
	if board == nil {
		board = models.Scoreboard{}
	}
	data, err := json.MarshalIndent(board, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode scoreboard: %w", err)
	}
	return data, nil
}

// column is one scoreboard column shared by the markdown and table renderers
type column struct {
	header string
	value  func(e models.ScoreboardEntry) string
}

var columns = []column{
	{"Run", func(e models.ScoreboardEntry) string { return e.Run }},
	{"Prompts", func(e models.ScoreboardEntry) string { return fmt.Sprintf("%d", e.PromptCount) }},
	{"Errors", func(e models.ScoreboardEntry) string { return fmt.Sprintf("%d", e.ErrorCount) }},
	{"Mean score", func(e models.ScoreboardEntry) string { return formatFloat(e.MeanScore, 3) }},
	{"Min score", func(e models.ScoreboardEntry) string { return formatFloat(e.MinScore, 3) }},
	{"p50 (s)", func(e models.ScoreboardEntry) string { return formatFloat(e.P50LatencyS, 3) }},
	{"p95 (s)", func(e models.ScoreboardEntry) string { return formatFloat(e.P95LatencyS, 3) }},
	{"p99 (s)", func(e models.ScoreboardEntry) string { return formatFloat(e.P99LatencyS, 3) }},
	{"p99/p50", func(e models.ScoreboardEntry) string { return formatFloat(e.LatencyP99P50Ratio, 2) }},
	{"Peak CPU %", func(e models.ScoreboardEntry) string { return formatFloat(e.PeakProcCPUPct, 1) }},
	{"Peak RSS (MB)", func(e models.ScoreboardEntry) string { return formatFloat(e.PeakProcRSSMB, 1) }},
}

func formatFloat(v *float64, places int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.*f", places, *v)
}

func headers() []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = c.header
	}
	return out
}

func row(e models.ScoreboardEntry) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = c.value(e)
	}
	return out
}
