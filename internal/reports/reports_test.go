package reports

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-bench/llm-bench/pkg/models"
)

func sampleBoard() models.Scoreboard {
	return models.Scoreboard{
		{Run: "q4_k_m", RunSummary: models.RunSummary{
			PromptCount:        10,
			SuccessCount:       9,
			ErrorCount:         1,
			MeanScore:          models.Ptr(0.8125),
			P50LatencyS:        models.Ptr(0.42),
			P99LatencyS:        models.Ptr(1.3),
			LatencyP99P50Ratio: models.Ptr(3.1),
			PeakProcRSSMB:      models.Ptr(5120.5),
		}},
		{Run: "q8_0", RunSummary: models.RunSummary{
			PromptCount:  10,
			SuccessCount: 10,
			MeanScore:    models.Ptr(0.9),
			P50LatencyS:  models.Ptr(0.61),
		}},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"", FormatTable},
		{"table", FormatTable},
		{"JSON", FormatJSON},
		{"md", FormatMarkdown},
		{"markdown", FormatMarkdown},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseFormat("html")
	assert.Error(t, err)
}

func TestJSON_MatrixOrder(t *testing.T) {
	data, err := JSON(sampleBoard())
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "q4_k_m", decoded[0]["run"])
	assert.Equal(t, "q8_0", decoded[1]["run"])
	assert.Equal(t, 0.8125, decoded[0]["mean_score"])
	assert.True(t, strings.Contains(string(data), "\n  {"), "expected indented output")
}

func TestJSON_EmptyIsArray(t *testing.T) {
	data, err := JSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestMarkdown(t *testing.T) {
	md := Markdown(sampleBoard())

	assert.True(t, strings.HasPrefix(md, "# Scoreboard\n"))
	assert.Contains(t, md, "- **Best mean score**: q8_0 (0.900)")
	assert.Contains(t, md, "- **Lowest p50 latency**: q4_k_m (0.420s)")
	assert.Contains(t, md, "| Run | Prompts | Errors |")
	assert.Contains(t, md, "| q4_k_m | 10 | 1 | 0.812 |")
	assert.Contains(t, md, "| 5120.5 |")

	lines := strings.Split(strings.TrimSpace(md), "\n")
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "| q8_0 | 10 | 0 | 0.900 |"))
	assert.Contains(t, lines[len(lines)-1], "| - |")
}

func TestMarkdown_Empty(t *testing.T) {
	assert.Equal(t, "# Scoreboard\n\nNo completed runs.\n", Markdown(nil))
}

func TestTable(t *testing.T) {
	out := Table(sampleBoard())

	assert.Contains(t, out, "Run")
	assert.Contains(t, out, "Mean score")
	assert.Contains(t, out, "q4_k_m")
	assert.Contains(t, out, "0.812")
	assert.Contains(t, out, "q8_0")

	assert.Contains(t, Table(nil), "No completed runs.")
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleBoard(), FormatJSON))
	assert.True(t, strings.HasPrefix(buf.String(), "[\n"))

	buf.Reset()
	require.NoError(t, Render(&buf, sampleBoard(), FormatMarkdown))
	assert.Contains(t, buf.String(), "# Scoreboard")

	buf.Reset()
	require.NoError(t, Render(&buf, sampleBoard(), FormatTable))
	assert.Contains(t, buf.String(), "q8_0")

	assert.Error(t, Render(&buf, nil, Format("csv")))
}
