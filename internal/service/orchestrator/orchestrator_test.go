//go:build unix

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-bench/llm-bench/internal/artifacts"
	"github.com/llm-bench/llm-bench/internal/benchmark"
	"github.com/llm-bench/llm-bench/internal/storage"
	"github.com/llm-bench/llm-bench/pkg/models"
)

// TestHelperProcess is not a real test - it stands in for the inference
// server when the test binary is re-executed with GO_WANT_HELPER_PROCESS=1
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)

	switch os.Getenv("HELPER_MODE") {
	case "server":
		os.WriteFile(os.Getenv("MARKER_FILE")+".armed", nil, 0644)
		fmt.Printf("llama server starting model=%s\n", os.Getenv("MODEL_PATH"))
		select {
		case <-sigCh:
			os.WriteFile(os.Getenv("MARKER_FILE"), []byte("terminated"), 0644)
			os.Exit(0)
		case <-time.After(30 * time.Second):
			os.Exit(0)
		}
	case "crash":
		fmt.Fprintln(os.Stderr, "error: failed to load model")
		os.Exit(3)
	default:
		os.Exit(0)
	}
}

// fakeServer answers the models endpoint with readyStatus and every chat
// completion with content. When readyFile is set the models endpoint also
// waits for that file, which the helper server writes once its SIGTERM
// handler is installed.
type fakeServer struct {
	*httptest.Server
	readyStatus atomic.Int32
	readyFile   atomic.Pointer[string]
	chatCalls   atomic.Int32
}

func newFakeServer(t *testing.T, content string) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.readyStatus.Store(http.StatusOK)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		if path := fs.readyFile.Load(); path != nil {
			if _, err := os.Stat(*path); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(int(fs.readyStatus.Load()))
		w.Write([]byte(`{"data":[]}`))
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		fs.chatCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}],"usage":{"prompt_tokens":12,"completion_tokens":6,"total_tokens":18}}`, content)
	})

	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func testPrompts() []models.PromptSpec {
	return []models.PromptSpec{
		{ID: "capital", Category: "geo", Prompt: "What is the capital of France?", ExpectedKeywords: []string{"paris"}},
		{ID: "country", Category: "geo", Prompt: "Where is Paris?", ExpectedKeywords: []string{"france"}, ForbiddenKeywords: []string{"berlin"}},
	}
}

func testSettings(t *testing.T, baseURL string) Settings {
	t.Helper()
	return Settings{
		Command:           []string{os.Args[0], "-test.run=TestHelperProcess", "--"},
		Workdir:           t.TempDir(),
		OutputRoot:        filepath.Join(t.TempDir(), "results"),
		ReadyTimeout:      5 * time.Second,
		ReadyPollInterval: 20 * time.Millisecond,
		GracePeriod:       2 * time.Second,
		SampleInterval:    20 * time.Millisecond,
		SamplerStopWait:   time.Second,
		Benchmark: models.BenchmarkOptions{
			BaseURL:          baseURL,
			SamplesPerPrompt: 1,
			RequestTimeout:   5 * time.Second,
		},
	}
}

func helperRun(t *testing.T, name, mode string) (models.RunConfig, string) {
	t.Helper()
	marker := filepath.Join(t.TempDir(), name+".terminated")
	return models.RunConfig{
		Name:      name,
		ServerBin: "/opt/llama/llama-server",
		ModelPath: "/models/" + name + ".gguf",
		Env: map[string]string{
			"HELPER_MODE": mode,
			"MARKER_FILE": marker,
		},
		TopP: 1.0,
	}, marker
}

func helperEnv() map[string]string {
	return map[string]string{
		"GO_WANT_HELPER_PROCESS": "1",
		"PATH":                   os.Getenv("PATH"),
	}
}

func newHistory(t *testing.T) *storage.HistoryStore {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return storage.NewHistoryStore(db)
}

func TestRunMatrix_CompletesRun(t *testing.T) {
	srv := newFakeServer(t, "Paris is the capital of France.")
	settings := testSettings(t, srv.URL)
	history := newHistory(t)
	run, marker := helperRun(t, "q4", "server")
	srv.readyFile.Store(models.Ptr(marker + ".armed"))

	o := New(settings, testPrompts(), WithBaseEnv(helperEnv()), WithHistory(history))
	board, err := o.RunMatrix(context.Background(), []models.RunConfig{run})
	require.NoError(t, err)

	require.Len(t, board, 1)
	assert.Equal(t, "q4", board[0].Run)
	assert.Equal(t, 2, board[0].PromptCount)
	assert.Equal(t, 2, board[0].SuccessCount)
	require.NotNil(t, board[0].MeanScore)
	assert.Equal(t, 1.0, *board[0].MeanScore)
	assert.Equal(t, 36, *board[0].TotalPromptTokens+*board[0].TotalCompletionTokens)
	assert.EqualValues(t, 2, srv.chatCalls.Load())

	// Teardown reached the server with SIGTERM
	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "terminated", string(data))

	runDir := artifacts.RunDir(settings.OutputRoot, "q4")
	for _, name := range []string{artifacts.ResponsesFile, artifacts.MetricsFile, artifacts.SummaryFile, artifacts.ServerLogFile, artifacts.RunConfigFile} {
		assert.FileExists(t, filepath.Join(runDir, name))
	}
	assert.FileExists(t, filepath.Join(settings.OutputRoot, artifacts.ScoreboardFile))
	assert.FileExists(t, filepath.Join(settings.OutputRoot, artifacts.ScoreboardMarkdownFile))

	serverLog, err := os.ReadFile(filepath.Join(runDir, artifacts.ServerLogFile))
	require.NoError(t, err)
	assert.Contains(t, string(serverLog), "model=/models/q4.gguf")

	records, err := benchmark.ParseResponsesJSONL(filepath.Join(runDir, artifacts.ResponsesFile))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "capital", records[0].PromptID)
	assert.Equal(t, "country", records[1].PromptID)

	var summary models.RunSummary
	require.NoError(t, artifacts.ReadJSON(filepath.Join(runDir, artifacts.SummaryFile), &summary))
	assert.Equal(t, 2, summary.PromptCount)

	var onDisk models.Scoreboard
	require.NoError(t, artifacts.ReadJSON(filepath.Join(settings.OutputRoot, artifacts.ScoreboardFile), &onDisk))
	require.Len(t, onDisk, 1)
	assert.Equal(t, "q4", onDisk[0].Run)

	state, ok := o.Board().Run("q4")
	require.True(t, ok)
	assert.Equal(t, models.RunStatusCompleted, state.Status)
	assert.Equal(t, 2, state.RecordsDone)

	results, err := history.ListRunResults(context.Background(), models.HistoryQuery{MatrixID: o.Board().MatrixID()})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.RunStatusCompleted, results[0].Status)
	require.NotNil(t, results[0].Summary)
	assert.Equal(t, 1.0, *results[0].Summary.MeanScore)

	matrix, err := history.GetMatrix(context.Background(), o.Board().MatrixID())
	require.NoError(t, err)
	assert.Equal(t, models.MatrixStatusCompleted, matrix.Status)
	assert.Equal(t, 1, matrix.RunCount)
}

func TestRunMatrix_ReadinessTimeout(t *testing.T) {
	srv := newFakeServer(t, "unused")
	srv.readyStatus.Store(http.StatusServiceUnavailable)

	settings := testSettings(t, srv.URL)
	settings.ReadyTimeout = 1500 * time.Millisecond
	settings.ReadyPollInterval = 100 * time.Millisecond
	run, marker := helperRun(t, "slow", "server")

	o := New(settings, testPrompts(), WithBaseEnv(helperEnv()))
	start := time.Now()
	board, err := o.RunMatrix(context.Background(), []models.RunConfig{run})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	var readyErr *ReadinessTimeoutError
	require.True(t, errors.As(err, &readyErr), "got %v", err)
	assert.Equal(t, "slow", readyErr.Run)
	assert.True(t, errors.Is(err, readyErr))

	var matrixErr *MatrixError
	require.True(t, errors.As(err, &matrixErr))
	require.Len(t, matrixErr.Failures, 1)

	assert.Empty(t, board)
	assert.Zero(t, srv.chatCalls.Load())

	// SIGTERM was delivered during teardown
	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "terminated", string(data))

	runDir := artifacts.RunDir(settings.OutputRoot, "slow")
	assert.NoFileExists(t, filepath.Join(runDir, artifacts.ResponsesFile))
	assert.NoFileExists(t, filepath.Join(runDir, artifacts.SummaryFile))
	assert.FileExists(t, filepath.Join(runDir, artifacts.ServerLogFile))

	var onDisk models.Scoreboard
	require.NoError(t, artifacts.ReadJSON(filepath.Join(settings.OutputRoot, artifacts.ScoreboardFile), &onDisk))
	assert.Empty(t, onDisk)

	state, _ := o.Board().Run("slow")
	assert.Equal(t, models.RunStatusFailed, state.Status)
	assert.Contains(t, state.Error, "not ready within")
}

func TestRunMatrix_ServerExitAbortsMatrix(t *testing.T) {
	srv := newFakeServer(t, "unused")
	srv.readyStatus.Store(http.StatusServiceUnavailable)

	settings := testSettings(t, srv.URL)
	history := newHistory(t)
	broken, _ := helperRun(t, "broken", "crash")
	never, _ := helperRun(t, "never", "server")

	o := New(settings, testPrompts(), WithBaseEnv(helperEnv()), WithHistory(history))
	start := time.Now()
	board, err := o.RunMatrix(context.Background(), []models.RunConfig{broken, never})
	require.Error(t, err)
	assert.Less(t, time.Since(start), settings.ReadyTimeout)

	var exitErr *ServerExitedError
	require.True(t, errors.As(err, &exitErr), "got %v", err)
	assert.Contains(t, exitErr.Output, "failed to load model")

	var matrixErr *MatrixError
	require.True(t, errors.As(err, &matrixErr))
	assert.Equal(t, []string{"never"}, matrixErr.Skipped)
	assert.Empty(t, board)

	serverLog, err := os.ReadFile(filepath.Join(artifacts.RunDir(settings.OutputRoot, "broken"), artifacts.ServerLogFile))
	require.NoError(t, err)
	assert.Contains(t, string(serverLog), "failed to load model")

	state, _ := o.Board().Run("never")
	assert.Equal(t, models.RunStatusIdle, state.Status)

	matrix, err := history.GetMatrix(context.Background(), o.Board().MatrixID())
	require.NoError(t, err)
	assert.Equal(t, models.MatrixStatusAborted, matrix.Status)
	assert.Equal(t, 1, matrix.FailedCount)
}

func TestRunMatrix_ContinueOnFailure(t *testing.T) {
	srv := newFakeServer(t, "Paris, France.")
	settings := testSettings(t, srv.URL)
	settings.ContinueOnFailure = true
	history := newHistory(t)
	broken, _ := helperRun(t, "broken", "crash")
	good, goodMarker := helperRun(t, "good", "server")
	srv.readyFile.Store(models.Ptr(goodMarker + ".armed"))

	o := New(settings, testPrompts(), WithBaseEnv(helperEnv()), WithHistory(history))
	board, err := o.RunMatrix(context.Background(), []models.RunConfig{broken, good})
	require.Error(t, err)

	var matrixErr *MatrixError
	require.True(t, errors.As(err, &matrixErr))
	require.Len(t, matrixErr.Failures, 1)
	assert.Equal(t, "broken", matrixErr.Failures[0].Run)
	assert.Empty(t, matrixErr.Skipped)

	require.Len(t, board, 1)
	assert.Equal(t, "good", board[0].Run)

	results, err := history.ListRunResults(context.Background(), models.HistoryQuery{MatrixID: o.Board().MatrixID()})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	matrix, err := history.GetMatrix(context.Background(), o.Board().MatrixID())
	require.NoError(t, err)
	assert.Equal(t, models.MatrixStatusPartial, matrix.Status)
	assert.Equal(t, 2, matrix.RunCount)
}

func TestRunMatrix_CancelledContext(t *testing.T) {
	srv := newFakeServer(t, "unused")
	settings := testSettings(t, srv.URL)
	run, _ := helperRun(t, "q4", "server")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(settings, testPrompts(), WithBaseEnv(helperEnv()))
	board, err := o.RunMatrix(ctx, []models.RunConfig{run})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, board)
	assert.FileExists(t, filepath.Join(settings.OutputRoot, artifacts.ScoreboardFile))
}
