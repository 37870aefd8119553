package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/llm-bench/llm-bench/internal/artifacts"
	"github.com/llm-bench/llm-bench/internal/benchmark"
)

var (
	summarizeRunDir string
	summarizeWrite  bool
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Recompute a run summary from its artifacts",
	Long: `Re-read responses.jsonl and metrics_samples.csv from a run directory,
recompute the summary and print it. With --write (the default) summary.json
is rewritten as well.`,
	RunE: runSummarize,
}

func init() {
	rootCmd.AddCommand(summarizeCmd)

	summarizeCmd.Flags().StringVar(&summarizeRunDir, "run-dir", "", "Run directory containing responses.jsonl")
	summarizeCmd.Flags().BoolVar(&summarizeWrite, "write", true, "Rewrite summary.json in the run directory")
	summarizeCmd.MarkFlagRequired("run-dir")
}

func runSummarize(cmd *cobra.Command, args []string) error {
	summary, err := benchmark.SummarizeRunDir(summarizeRunDir)
	if err != nil {
		return err
	}

	if summarizeWrite {
		if err := artifacts.WriteJSON(filepath.Join(summarizeRunDir, artifacts.SummaryFile), summary); err != nil {
			return err
		}
	}

	return printJSON(cmd, summary)
}
