package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/llm-bench/llm-bench/internal/artifacts"
	"github.com/llm-bench/llm-bench/internal/benchmark"
	"github.com/llm-bench/llm-bench/internal/inference"
	"github.com/llm-bench/llm-bench/internal/logging"
	"github.com/llm-bench/llm-bench/internal/service/runner"
	"github.com/llm-bench/llm-bench/internal/service/sampler"
	"github.com/llm-bench/llm-bench/pkg/models"
)

var (
	benchBaseURL         string
	benchPromptFile      string
	benchOutputDir       string
	benchTimeoutS        int
	benchSamples         int
	benchTemperature     float64
	benchTopP            float64
	benchServerPID       int
	benchSampleInterval  time.Duration
	benchRequestInterval time.Duration
	benchModelName       string
	benchSystemPrompt    string
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark an already running server",
	Long: `Run the prompt set once against a server that is already listening,
sampling host resources (and the server process when --server-pid is given).
Writes responses.jsonl, metrics_samples.csv and summary.json into
--output-dir and prints the summary.`,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().StringVar(&benchBaseURL, "base-url", "", "Server base URL, e.g. http://127.0.0.1:8080")
	benchCmd.Flags().StringVar(&benchPromptFile, "prompt-file", "", "Prompt set (JSONL)")
	benchCmd.Flags().StringVar(&benchOutputDir, "output-dir", "", "Directory for run artifacts")
	benchCmd.Flags().IntVar(&benchTimeoutS, "timeout-s", 90, "Per-request timeout in seconds")
	benchCmd.Flags().IntVar(&benchSamples, "samples-per-prompt", 1, "Attempts per prompt")
	benchCmd.Flags().Float64Var(&benchTemperature, "temperature", 0.0, "Sampling temperature")
	benchCmd.Flags().Float64Var(&benchTopP, "top-p", 1.0, "Nucleus sampling top_p")
	benchCmd.Flags().IntVar(&benchServerPID, "server-pid", 0, "Server process to sample (0 = system only)")
	benchCmd.Flags().DurationVar(&benchSampleInterval, "sample-interval", sampler.DefaultInterval, "Resource sampling interval")
	benchCmd.Flags().DurationVar(&benchRequestInterval, "request-interval", 0, "Minimum spacing between requests")
	benchCmd.Flags().StringVar(&benchModelName, "model-name", inference.DefaultModel, "Model name sent with each request")
	benchCmd.Flags().StringVar(&benchSystemPrompt, "system-prompt", inference.DefaultSystemPrompt, "System message sent with each request")

	benchCmd.MarkFlagRequired("base-url")
	benchCmd.MarkFlagRequired("prompt-file")
	benchCmd.MarkFlagRequired("output-dir")
}

func runBench(cmd *cobra.Command, args []string) error {
	if benchTimeoutS <= 0 {
		return fmt.Errorf("--timeout-s must be positive")
	}
	if benchSampleInterval <= 0 {
		return fmt.Errorf("--sample-interval must be positive")
	}

	prompts, err := benchmark.LoadPrompts(benchPromptFile)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	opts := models.BenchmarkOptions{
		BaseURL:          benchBaseURL,
		ModelName:        benchModelName,
		SystemPrompt:     benchSystemPrompt,
		SamplesPerPrompt: benchSamples,
		Temperature:      benchTemperature,
		TopP:             benchTopP,
		RequestTimeout:   time.Duration(benchTimeoutS) * time.Second,
		RequestInterval:  benchRequestInterval,
	}

	if err := artifacts.EnsureDir(benchOutputDir); err != nil {
		return err
	}
	responses, err := artifacts.CreateJSONL(filepath.Join(benchOutputDir, artifacts.ResponsesFile))
	if err != nil {
		return err
	}
	defer responses.Close()

	metricsPath := filepath.Join(benchOutputDir, artifacts.MetricsFile)
	samples, err := artifacts.CreateMetricsCSV(metricsPath)
	if err != nil {
		return err
	}
	defer samples.Close()

	smp := sampler.New(samples,
		sampler.WithPID(benchServerPID),
		sampler.WithInterval(benchSampleInterval))
	smp.Start(ctx)

	client := inference.NewClient(opts.BaseURL,
		inference.WithModel(opts.ModelName),
		inference.WithSystemPrompt(opts.SystemPrompt),
		inference.WithTimeout(opts.RequestTimeout))

	logging.Info(ctx, "benchmark starting",
		slog.String("base_url", opts.BaseURL),
		slog.Int("prompts", len(prompts)),
		slog.Int("samples_per_prompt", opts.SamplesPerPrompt))

	records, runErr := runner.New(client, responses).Run(ctx, prompts, opts)
	smp.Stop(sampler.DefaultStopTimeout)
	if runErr != nil {
		return runErr
	}
	if err := samples.Close(); err != nil {
		return err
	}

	metricSamples, err := benchmark.ParseMetricsCSV(metricsPath)
	if err != nil {
		return err
	}
	summary := benchmark.Summarize(records, metricSamples)
	if err := artifacts.WriteJSON(filepath.Join(benchOutputDir, artifacts.SummaryFile), summary); err != nil {
		return err
	}

	return printJSON(cmd, summary)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
