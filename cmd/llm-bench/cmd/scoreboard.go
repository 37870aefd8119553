package cmd

import (
	"github.com/spf13/cobra"

	"github.com/llm-bench/llm-bench/internal/artifacts"
	"github.com/llm-bench/llm-bench/internal/reports"
	"github.com/llm-bench/llm-bench/pkg/models"
)

var (
	scoreboardFile   string
	scoreboardFormat string
)

var scoreboardCmd = &cobra.Command{
	Use:   "scoreboard",
	Short: "Render an existing scoreboard.json",
	RunE:  runScoreboard,
}

func init() {
	rootCmd.AddCommand(scoreboardCmd)

	scoreboardCmd.Flags().StringVarP(&scoreboardFile, "file", "f", "results/"+artifacts.ScoreboardFile, "Scoreboard file")
	scoreboardCmd.Flags().StringVarP(&scoreboardFormat, "format", "o", "table", "Output format (table, json, markdown)")
}

func runScoreboard(cmd *cobra.Command, args []string) error {
	format, err := reports.ParseFormat(scoreboardFormat)
	if err != nil {
		return err
	}

	var board models.Scoreboard
	if err := artifacts.ReadJSON(scoreboardFile, &board); err != nil {
		return err
	}

	return reports.Render(cmd.OutOrStdout(), board, format)
}
