// Package runner issues the prompt set against a chat-completion server,
// one request at a time, and scores each response.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/llm-bench/llm-bench/internal/benchmark"
	"github.com/llm-bench/llm-bench/internal/inference"
	"github.com/llm-bench/llm-bench/internal/logging"
	"github.com/llm-bench/llm-bench/internal/metrics"
	"github.com/llm-bench/llm-bench/pkg/models"
)

// Completer issues one chat completion
type Completer interface {
	Complete(ctx context.Context, prompt string, temperature, topP float64) (*inference.Completion, error)
}

// RecordWriter persists a record before the next attempt starts
type RecordWriter interface {
	Write(v any) error
}

// Observer is called after every attempt, in order
type Observer func(record models.ResponseRecord)

// Runner executes the prompt set sequentially
type Runner struct {
	client   Completer
	out      RecordWriter
	logger   *slog.Logger
	observer Observer
	runName  string
}

// Option configures a Runner
type Option func(*Runner)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithObserver registers a per-record callback
func WithObserver(fn Observer) Option {
	return func(r *Runner) {
		r.observer = fn
	}
}

// WithRunName labels exported metrics with the run name
func WithRunName(name string) Option {
	return func(r *Runner) {
		r.runName = name
	}
}

// New creates a runner that sends requests through client and appends
// records to out
func New(client Completer, out RecordWriter, opts ...Option) *Runner {
	r := &Runner{
		client: client,
		out:    out,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run issues SamplesPerPrompt attempts for every prompt, in prompt order.
// A failed attempt is recorded and the run continues. Run stops early only
// when ctx is cancelled or a record cannot be written; the records gathered
// so far are returned with the error.
func (r *Runner) Run(ctx context.Context, prompts []models.PromptSpec, opts models.BenchmarkOptions) ([]models.ResponseRecord, error) {
	samples := opts.SamplesPerPrompt
	if samples < 1 {
		samples = 1
	}

	var limiter *rate.Limiter
	if opts.RequestInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.RequestInterval), 1)
	}

	records := make([]models.ResponseRecord, 0, len(prompts)*samples)

	for i, spec := range prompts {
		promptID := spec.ID
		if promptID == "" {
			promptID = fmt.Sprintf("#%d", i)
		}
		promptCtx := logging.WithPromptID(ctx, promptID)

		for idx := 0; idx < samples; idx++ {
			if err := ctx.Err(); err != nil {
				return records, err
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return records, err
				}
			}

			record := r.attempt(promptCtx, spec, idx, opts)

			if err := r.out.Write(record); err != nil {
				return records, fmt.Errorf("failed to write response record: %w", err)
			}
			records = append(records, record)

			if r.observer != nil {
				r.observer(record)
			}
		}
	}

	return records, nil
}

func (r *Runner) attempt(ctx context.Context, spec models.PromptSpec, idx int, opts models.BenchmarkOptions) models.ResponseRecord {
	record := models.ResponseRecord{
		PromptID:       spec.ID,
		Category:       spec.Category,
		ReplicateIndex: idx,
	}

	completion, err := r.client.Complete(ctx, spec.Prompt, opts.Temperature, opts.TopP)
	if err != nil {
		record.Score = models.Ptr(0.0)
		record.ExpectedTotal = len(spec.ExpectedKeywords)
		record.Error = err.Error()

		r.logger.WarnContext(ctx, "request failed",
			slog.Int("sample_idx", idx),
			slog.String("error", err.Error()))
		r.recordMetrics(record, 0)
		return record
	}

	result := benchmark.ScorePrompt(completion.Content, spec)

	record.LatencyS = models.Ptr(math.Round(completion.Latency.Seconds()*1e4) / 1e4)
	record.PromptTokens = completion.Usage.PromptTokens
	record.CompletionTokens = completion.Usage.CompletionTokens
	record.TotalTokens = completion.Usage.TotalTokens
	record.Score = models.Ptr(result.Score)
	record.ExpectedHits = result.ExpectedHits
	record.ExpectedTotal = result.ExpectedTotal
	record.ForbiddenHits = result.ForbiddenHits
	record.Response = completion.Content

	r.logger.InfoContext(ctx, "request completed",
		slog.Int("sample_idx", idx),
		slog.Float64("latency_s", *record.LatencyS),
		slog.Float64("score", result.Score),
		slog.Int("misses", result.Misses),
		slog.Int("forbidden_hits", result.ForbiddenHits))
	r.recordMetrics(record, completion.Latency)
	return record
}

func (r *Runner) recordMetrics(record models.ResponseRecord, latency time.Duration) {
	if r.runName == "" {
		return
	}
	metrics.RecordRequest(r.runName, !record.Failed(), latency, *record.Score)
}
