package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/llm-bench/llm-bench/internal/storage"
	"github.com/llm-bench/llm-bench/pkg/models"
)

var (
	historyDB       string
	historyRun      string
	historyMatrixID string
	historyStatus   string
	historyLimit    int
	historyFormat   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored run results",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyDB, "db", getEnvOrDefault("LLMBENCH_DB_PATH", "results/history.db"), "History database")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "Filter by run name")
	historyCmd.Flags().StringVar(&historyMatrixID, "matrix", "", "Filter by matrix invocation id")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Filter by status (completed, failed)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum results")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "o", "table", "Output format (table, json)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	db, err := storage.Open(ctx, historyDB)
	if err != nil {
		return err
	}
	defer db.Close()

	results, err := storage.NewHistoryStore(db).ListRunResults(ctx, models.HistoryQuery{
		MatrixID: historyMatrixID,
		RunName:  historyRun,
		Status:   models.RunStatus(historyStatus),
		Limit:    historyLimit,
	})
	if err != nil {
		return err
	}

	if historyFormat == "json" {
		if results == nil {
			results = []*models.RunResult{}
		}
		return printJSON(cmd, results)
	}

	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No run results found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FINISHED\tRUN\tSTATUS\tPROMPTS\tERRORS\tMEAN SCORE\tP99 (S)\tMATRIX")
	for _, r := range results {
		prompts, errs, score, p99 := "-", "-", "-", "-"
		if r.Summary != nil {
			prompts = fmt.Sprintf("%d", r.Summary.PromptCount)
			errs = fmt.Sprintf("%d", r.Summary.ErrorCount)
			score = optional(r.Summary.MeanScore, 3)
			p99 = optional(r.Summary.P99LatencyS, 3)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			r.RunName, r.Status, prompts, errs, score, p99, shortID(r.MatrixID))
	}
	return w.Flush()
}

func optional(v *float64, places int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.*f", places, *v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
