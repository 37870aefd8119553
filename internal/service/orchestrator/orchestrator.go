// Package orchestrator drives the run matrix: for every run it launches the
// inference server, waits for readiness, benchmarks it while sampling
// resources, tears the process group down and writes the run artifacts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/llm-bench/llm-bench/internal/artifacts"
	"github.com/llm-bench/llm-bench/internal/benchmark"
	"github.com/llm-bench/llm-bench/internal/inference"
	"github.com/llm-bench/llm-bench/internal/logging"
	"github.com/llm-bench/llm-bench/internal/metrics"
	"github.com/llm-bench/llm-bench/internal/process"
	"github.com/llm-bench/llm-bench/internal/reports"
	"github.com/llm-bench/llm-bench/internal/service/runner"
	"github.com/llm-bench/llm-bench/internal/service/sampler"
	"github.com/llm-bench/llm-bench/pkg/models"
)

const (
	// DefaultReadyTimeout is how long to wait for the models endpoint
	DefaultReadyTimeout = 90 * time.Second

	// DefaultReadyPollInterval paces readiness probes
	DefaultReadyPollInterval = 1 * time.Second

	// serverLogTail is how much server output a ServerExitedError carries
	serverLogTail = 2048
)

// HistoryRecorder persists matrix invocations and run outcomes
type HistoryRecorder interface {
	CreateMatrix(ctx context.Context, m *models.MatrixRecord) error
	FinishMatrix(ctx context.Context, id string, status models.MatrixStatus, runCount, failedCount int, finishedAt time.Time) error
	SaveRunResult(ctx context.Context, r *models.RunResult) error
}

// Settings holds the matrix-wide parameters
type Settings struct {
	Command           []string // server launch command, run in Workdir
	Workdir           string
	OutputRoot        string
	ConfigPath        string // recorded in history only
	ReadyTimeout      time.Duration
	ReadyPollInterval time.Duration
	GracePeriod       time.Duration
	SampleInterval    time.Duration
	SamplerStopWait   time.Duration
	ContinueOnFailure bool

	// Benchmark is the per-run runner template; Temperature and TopP are
	// taken from each RunConfig
	Benchmark models.BenchmarkOptions
}

// Orchestrator runs a matrix of server configurations one at a time
type Orchestrator struct {
	settings  Settings
	prompts   []models.PromptSpec
	board     *StatusBoard
	history   HistoryRecorder
	logger    *slog.Logger
	baseEnv   map[string]string
	system    sampler.SystemProbe
	procProbe sampler.ProcessProbe
	now       func() time.Time
}

// Option configures the orchestrator
type Option func(*Orchestrator)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithStatusBoard publishes progress to board
func WithStatusBoard(board *StatusBoard) Option {
	return func(o *Orchestrator) {
		o.board = board
	}
}

// WithHistory persists outcomes to the given recorder
func WithHistory(h HistoryRecorder) Option {
	return func(o *Orchestrator) {
		o.history = h
	}
}

// WithBaseEnv replaces the environment snapshot the server env is built on
func WithBaseEnv(env map[string]string) Option {
	return func(o *Orchestrator) {
		o.baseEnv = env
	}
}

// WithProbes overrides the sampler probes
func WithProbes(system sampler.SystemProbe, proc sampler.ProcessProbe) Option {
	return func(o *Orchestrator) {
		o.system = system
		o.procProbe = proc
	}
}

// New creates an orchestrator for the given prompt set
func New(settings Settings, prompts []models.PromptSpec, opts ...Option) *Orchestrator {
	if settings.ReadyTimeout <= 0 {
		settings.ReadyTimeout = DefaultReadyTimeout
	}
	if settings.ReadyPollInterval <= 0 {
		settings.ReadyPollInterval = DefaultReadyPollInterval
	}
	if settings.GracePeriod <= 0 {
		settings.GracePeriod = process.DefaultGracePeriod
	}
	if settings.SampleInterval <= 0 {
		settings.SampleInterval = sampler.DefaultInterval
	}
	if settings.SamplerStopWait <= 0 {
		settings.SamplerStopWait = sampler.DefaultStopTimeout
	}

	o := &Orchestrator{
		settings: settings,
		prompts:  prompts,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.board == nil {
		o.board = NewStatusBoard()
	}
	if o.baseEnv == nil {
		o.baseEnv = BaseEnv()
	}
	return o
}

// Board returns the status board the orchestrator publishes to
func (o *Orchestrator) Board() *StatusBoard {
	return o.board
}

// RunMatrix executes runs in order and writes scoreboard.json and
// scoreboard.md under the output root. The scoreboard of completed runs is
// written even when the matrix stops early. A *MatrixError is returned
// when any run failed.
func (o *Orchestrator) RunMatrix(ctx context.Context, runs []models.RunConfig) (models.Scoreboard, error) {
	matrixID := uuid.New().String()
	ctx = logging.WithMatrixID(ctx, matrixID)

	names := make([]string, len(runs))
	for i, r := range runs {
		names[i] = r.Name
	}
	o.board.Reset(matrixID, names, len(o.prompts)*max(o.settings.Benchmark.SamplesPerPrompt, 1))

	if o.history != nil {
		rec := &models.MatrixRecord{
			ID:         matrixID,
			ConfigPath: o.settings.ConfigPath,
			Status:     models.MatrixStatusRunning,
			StartedAt:  o.now().UTC(),
		}
		if err := o.history.CreateMatrix(ctx, rec); err != nil {
			o.logger.WarnContext(ctx, "failed to record matrix start", slog.String("error", err.Error()))
		}
	}

	logging.Audit(ctx, "matrix_started", slog.Int("runs", len(runs)), slog.Int("prompts", len(o.prompts)))

	var matrixErr MatrixError
	attempted := 0
	for i, run := range runs {
		if ctx.Err() != nil {
			matrixErr.Skipped = append(matrixErr.Skipped, names[i:]...)
			break
		}

		attempted++
		if _, err := o.RunOne(ctx, run); err != nil {
			matrixErr.Failures = append(matrixErr.Failures, RunFailure{Run: run.Name, Err: err})
			if !o.settings.ContinueOnFailure {
				matrixErr.Skipped = append(matrixErr.Skipped, names[i+1:]...)
				break
			}
		}
	}

	board := o.board.Scoreboard()
	writeErr := o.writeScoreboard(board)

	status := models.MatrixStatusCompleted
	switch {
	case len(matrixErr.Skipped) > 0:
		status = models.MatrixStatusAborted
	case len(matrixErr.Failures) > 0:
		status = models.MatrixStatusPartial
	}

	if o.history != nil {
		// Recording the outcome must survive a cancelled matrix context
		hctx := context.WithoutCancel(ctx)
		if err := o.history.FinishMatrix(hctx, matrixID, status, attempted, len(matrixErr.Failures), o.now().UTC()); err != nil {
			o.logger.WarnContext(ctx, "failed to record matrix finish", slog.String("error", err.Error()))
		}
	}

	logging.Audit(ctx, "matrix_finished",
		slog.String("status", string(status)),
		slog.Int("completed", len(board)),
		slog.Int("failed", len(matrixErr.Failures)),
		slog.Int("skipped", len(matrixErr.Skipped)))

	if len(matrixErr.Failures) > 0 || len(matrixErr.Skipped) > 0 {
		if len(matrixErr.Failures) == 0 && ctx.Err() != nil {
			return board, errors.Join(ctx.Err(), writeErr)
		}
		return board, errors.Join(&matrixErr, writeErr)
	}
	return board, writeErr
}

func (o *Orchestrator) writeScoreboard(board models.Scoreboard) error {
	if err := artifacts.EnsureDir(o.settings.OutputRoot); err != nil {
		return err
	}

	data, err := reports.JSON(board)
	if err != nil {
		return err
	}
	if err := artifacts.WriteFile(filepath.Join(o.settings.OutputRoot, artifacts.ScoreboardFile), append(data, '\n')); err != nil {
		return err
	}
	return artifacts.WriteFile(filepath.Join(o.settings.OutputRoot, artifacts.ScoreboardMarkdownFile), []byte(reports.Markdown(board)))
}

// RunOne executes a single run through its full lifecycle and returns its
// summary. The server log is written whether or not the run succeeds.
func (o *Orchestrator) RunOne(ctx context.Context, run models.RunConfig) (summary *models.RunSummary, err error) {
	ctx = logging.WithRunName(ctx, run.Name)
	started := o.now()

	defer func() {
		status := models.RunStatusCompleted
		if err != nil {
			status = models.RunStatusFailed
			o.board.Fail(run.Name, err)
			logging.Error(ctx, "run failed", slog.String("error", err.Error()))
		} else {
			o.board.Complete(run.Name, *summary)
		}
		elapsed := o.now().Sub(started)
		metrics.RecordRunFinished(string(status), elapsed)
		o.recordResult(ctx, run, status, summary, err, started)
		logging.Audit(ctx, "run_finished",
			slog.String("status", string(status)),
			slog.Duration("duration", elapsed))
	}()

	runDir := artifacts.RunDir(o.settings.OutputRoot, run.Name)
	if err := artifacts.EnsureDir(runDir); err != nil {
		return nil, err
	}
	if err := artifacts.WriteYAML(filepath.Join(runDir, artifacts.RunConfigFile), run); err != nil {
		return nil, err
	}

	o.board.SetStatus(run.Name, models.RunStatusLaunching)
	env := ComposeEnv(o.baseEnv, run)
	handle, err := process.Launch(ctx, process.Spec{
		Command: o.settings.Command,
		Dir:     o.settings.Workdir,
		Env:     env,
	})
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", run.Name, err)
	}
	logging.Info(ctx, "server launched",
		slog.Int("pid", handle.PID()),
		slog.String("model_path", env["MODEL_PATH"]))

	// Teardown and the server log happen on every path once launched
	defer func() {
		o.board.SetStatus(run.Name, models.RunStatusTearingDown)
		if termErr := handle.Terminate(o.settings.GracePeriod); termErr != nil {
			logging.Warn(ctx, "server teardown failed", slog.String("error", termErr.Error()))
		}
		logPath := filepath.Join(runDir, artifacts.ServerLogFile)
		if logErr := artifacts.WriteFile(logPath, handle.Output()); logErr != nil {
			logging.Warn(ctx, "failed to write server log", slog.String("error", logErr.Error()))
		}
	}()

	opts := o.settings.Benchmark
	opts.Temperature = run.Temperature
	opts.TopP = run.TopP

	client := inference.NewClient(opts.BaseURL,
		inference.WithModel(opts.ModelName),
		inference.WithSystemPrompt(opts.SystemPrompt),
		inference.WithTimeout(opts.RequestTimeout))

	o.board.SetStatus(run.Name, models.RunStatusAwaitingReady)
	if err := o.waitReady(ctx, run.Name, client, handle); err != nil {
		return nil, err
	}

	o.board.SetStatus(run.Name, models.RunStatusRunning)
	records, err := o.runPrompts(ctx, run, runDir, client, handle.PID(), opts)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", run.Name, err)
	}

	samples, err := benchmark.ParseMetricsCSV(filepath.Join(runDir, artifacts.MetricsFile))
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", run.Name, err)
	}
	s := benchmark.Summarize(records, samples)
	if err := artifacts.WriteJSON(filepath.Join(runDir, artifacts.SummaryFile), s); err != nil {
		return nil, fmt.Errorf("run %s: %w", run.Name, err)
	}

	return &s, nil
}

// runPrompts runs the prompt set with the sampler attached to pid
func (o *Orchestrator) runPrompts(ctx context.Context, run models.RunConfig, runDir string, client *inference.Client, pid int, opts models.BenchmarkOptions) ([]models.ResponseRecord, error) {
	responses, err := artifacts.CreateJSONL(filepath.Join(runDir, artifacts.ResponsesFile))
	if err != nil {
		return nil, err
	}
	defer responses.Close()

	samples, err := artifacts.CreateMetricsCSV(filepath.Join(runDir, artifacts.MetricsFile))
	if err != nil {
		return nil, err
	}
	defer samples.Close()

	samplerOpts := []sampler.Option{
		sampler.WithPID(pid),
		sampler.WithInterval(o.settings.SampleInterval),
		sampler.WithRunName(run.Name),
		sampler.WithLogger(o.logger),
	}
	if o.system != nil {
		samplerOpts = append(samplerOpts, sampler.WithSystemProbe(o.system))
	}
	if o.procProbe != nil {
		samplerOpts = append(samplerOpts, sampler.WithProcessProbe(o.procProbe))
	}
	smp := sampler.New(samples, samplerOpts...)
	smp.Start(ctx)

	r := runner.New(client, responses,
		runner.WithLogger(o.logger),
		runner.WithRunName(run.Name),
		runner.WithObserver(func(rec models.ResponseRecord) {
			o.board.RecordDone(run.Name, rec.Failed())
		}))
	records, runErr := r.Run(ctx, o.prompts, opts)

	smp.Stop(o.settings.SamplerStopWait)

	if runErr != nil {
		return records, runErr
	}
	if err := samples.Close(); err != nil {
		return records, fmt.Errorf("failed to close metrics samples: %w", err)
	}
	if err := responses.Close(); err != nil {
		return records, fmt.Errorf("failed to close responses: %w", err)
	}

	logging.Info(ctx, "benchmark finished",
		slog.Int("records", len(records)),
		slog.Int("samples", smp.Count()))
	return records, nil
}

// ReadyChecker probes the server's models endpoint
type ReadyChecker interface {
	Ready(ctx context.Context) error
	BaseURL() string
}

// waitReady polls the models endpoint until it answers 200, the ready
// deadline passes, or the server exits
func (o *Orchestrator) waitReady(ctx context.Context, runName string, client ReadyChecker, handle *process.Handle) error {
	start := o.now()
	readyCtx, cancel := context.WithTimeout(ctx, o.settings.ReadyTimeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(o.settings.ReadyPollInterval), 1)
	var lastErr error

	for {
		if err := limiter.Wait(readyCtx); err != nil {
			break
		}

		select {
		case <-handle.Done():
			return &ServerExitedError{
				Run:     runName,
				ExitErr: handle.ExitErr(),
				Output:  tail(string(handle.Output()), serverLogTail),
			}
		default:
		}

		attemptCtx, attemptCancel := context.WithTimeout(readyCtx, inference.ReadyProbeTimeout)
		lastErr = client.Ready(attemptCtx)
		attemptCancel()
		if lastErr == nil {
			elapsed := o.now().Sub(start)
			metrics.RecordServerReady(elapsed)
			logging.Info(ctx, "server ready", slog.Duration("elapsed", elapsed))
			return nil
		}
		logging.Debug(ctx, "server not ready", slog.String("error", lastErr.Error()))
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if handle.Exited() {
		return &ServerExitedError{
			Run:     runName,
			ExitErr: handle.ExitErr(),
			Output:  tail(string(handle.Output()), serverLogTail),
		}
	}
	return &ReadinessTimeoutError{
		Run:     runName,
		URL:     client.BaseURL(),
		Timeout: o.settings.ReadyTimeout,
		LastErr: lastErr,
	}
}

func (o *Orchestrator) recordResult(ctx context.Context, run models.RunConfig, status models.RunStatus, summary *models.RunSummary, runErr error, started time.Time) {
	if o.history == nil {
		return
	}

	result := &models.RunResult{
		MatrixID:   o.board.MatrixID(),
		RunName:    run.Name,
		Status:     status,
		Config:     run,
		Summary:    summary,
		StartedAt:  started.UTC(),
		FinishedAt: o.now().UTC(),
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	if err := o.history.SaveRunResult(context.WithoutCancel(ctx), result); err != nil {
		logging.Warn(ctx, "failed to record run result", slog.String("error", err.Error()))
	}
}
