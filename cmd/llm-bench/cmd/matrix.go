package cmd

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/llm-bench/llm-bench/internal/api"
	"github.com/llm-bench/llm-bench/internal/benchmark"
	"github.com/llm-bench/llm-bench/internal/config"
	"github.com/llm-bench/llm-bench/internal/logging"
	"github.com/llm-bench/llm-bench/internal/reports"
	"github.com/llm-bench/llm-bench/internal/service/orchestrator"
	"github.com/llm-bench/llm-bench/internal/storage"
)

var (
	matrixConfig     string
	matrixOnly       string
	matrixStatusAddr string
	matrixFormat     string
	matrixNoHistory  bool
)

var matrixCmd = &cobra.Command{
	Use:   "matrix",
	Short: "Run every server configuration in a matrix file",
	Long: `Launch the inference server once per configuration in the matrix file,
benchmark it, tear it down and write per-run artifacts plus scoreboard.json
and scoreboard.md under the output root. The scoreboard is printed when the
matrix finishes.`,
	RunE: runMatrix,
}

func init() {
	rootCmd.AddCommand(matrixCmd)

	matrixCmd.Flags().StringVarP(&matrixConfig, "config", "c", "", "Matrix configuration file (YAML)")
	matrixCmd.Flags().StringVar(&matrixOnly, "only", "", "Run only the named configuration")
	matrixCmd.Flags().StringVar(&matrixStatusAddr, "status-addr", "", "Serve the status API on this address while running")
	matrixCmd.Flags().StringVarP(&matrixFormat, "format", "o", "table", "Scoreboard output format (table, json, markdown)")
	matrixCmd.Flags().BoolVar(&matrixNoHistory, "no-history", false, "Do not record results in the history database")
	matrixCmd.MarkFlagRequired("config")
}

func runMatrix(cmd *cobra.Command, args []string) error {
	format, err := reports.ParseFormat(matrixFormat)
	if err != nil {
		return err
	}

	cfg, err := config.Load(matrixConfig)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// The file's logging section applies unless a flag was given
	if !cmd.Flags().Changed("log-level") && cfg.Logging.Level != "" {
		logLevel = cfg.Logging.Level
	}
	if !cmd.Flags().Changed("log-format") && cfg.Logging.Format != "" {
		logFormat = cfg.Logging.Format
	}
	logger := logging.Setup(logging.Config{Level: logLevel, Format: logFormat})

	runs, err := cfg.ResolveRuns(matrixOnly)
	if err != nil {
		return err
	}

	// Prompt problems are fatal before any server is launched
	prompts, err := benchmark.LoadPrompts(cfg.Global.PromptFile)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	board := orchestrator.NewStatusBoard()
	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithStatusBoard(board),
	}

	var history *storage.HistoryStore
	if !matrixNoHistory {
		db, err := storage.Open(ctx, cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		history = storage.NewHistoryStore(db)
		opts = append(opts, orchestrator.WithHistory(history))
	}

	statusAddr := matrixStatusAddr
	if statusAddr == "" {
		statusAddr = cfg.Status.Addr
	}
	if statusAddr != "" {
		apiOpts := []api.Option{api.WithLogger(logger), api.WithAddr(statusAddr)}
		if history != nil {
			apiOpts = append(apiOpts, api.WithHistory(history))
		}
		server := api.New(board, apiOpts...)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("status API failed", slog.String("error", err.Error()))
			}
		}()
		server.SetReady(true)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	settings := orchestrator.Settings{
		Command:           cfg.Global.ServerCommand,
		Workdir:           cfg.Global.Workdir,
		OutputRoot:        cfg.Global.OutputRoot,
		ConfigPath:        matrixConfig,
		ReadyTimeout:      cfg.ReadyTimeout(),
		SampleInterval:    cfg.Global.SampleInterval,
		ContinueOnFailure: cfg.Global.ContinueOnFailure,
		Benchmark:         cfg.BenchmarkOptions(runs[0]),
	}

	orch := orchestrator.New(settings, prompts, opts...)
	scoreboard, runErr := orch.RunMatrix(ctx, runs)

	if err := reports.Render(cmd.OutOrStdout(), scoreboard, format); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}
