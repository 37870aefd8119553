package orchestrator

import (
	"sync"
	"time"

	"github.com/llm-bench/llm-bench/pkg/models"
)

// RunState is the live view of one run in the current matrix
type RunState struct {
	Name            string             `json:"name"`
	Status          models.RunStatus   `json:"status"`
	RecordsDone     int                `json:"records_done"`
	RecordsExpected int                `json:"records_expected"`
	Errors          int                `json:"errors"`
	Error           string             `json:"error,omitempty"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	FinishedAt      *time.Time         `json:"finished_at,omitempty"`
	Summary         *models.RunSummary `json:"summary,omitempty"`
}

// StatusBoard tracks matrix progress for the status API. Safe for
// concurrent use.
type StatusBoard struct {
	mu         sync.RWMutex
	matrixID   string
	runs       []*RunState
	index      map[string]*RunState
	scoreboard models.Scoreboard
	now        func() time.Time
}

// NewStatusBoard creates an empty status board
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{
		index: make(map[string]*RunState),
		now:   time.Now,
	}
}

// Reset starts tracking a new matrix with every run idle
func (b *StatusBoard) Reset(matrixID string, runs []string, expectedRecords int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.matrixID = matrixID
	b.runs = make([]*RunState, 0, len(runs))
	b.index = make(map[string]*RunState, len(runs))
	b.scoreboard = nil
	for _, name := range runs {
		st := &RunState{Name: name, Status: models.RunStatusIdle, RecordsExpected: expectedRecords}
		b.runs = append(b.runs, st)
		b.index[name] = st
	}
}

// SetStatus moves a run to a new state
func (b *StatusBoard) SetStatus(name string, status models.RunStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.index[name]
	if !ok {
		return
	}
	st.Status = status
	now := b.now()
	if status == models.RunStatusLaunching && st.StartedAt == nil {
		st.StartedAt = &now
	}
	if status.IsTerminal() {
		st.FinishedAt = &now
	}
}

// RecordDone counts one finished request attempt
func (b *StatusBoard) RecordDone(name string, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if st, ok := b.index[name]; ok {
		st.RecordsDone++
		if failed {
			st.Errors++
		}
	}
}

// Fail marks a run failed with its error
func (b *StatusBoard) Fail(name string, err error) {
	b.SetStatus(name, models.RunStatusFailed)

	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.index[name]; ok && err != nil {
		st.Error = err.Error()
	}
}

// Complete marks a run completed and appends it to the scoreboard
func (b *StatusBoard) Complete(name string, summary models.RunSummary) {
	b.SetStatus(name, models.RunStatusCompleted)

	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.index[name]; ok {
		s := summary
		st.Summary = &s
	}
	b.scoreboard = append(b.scoreboard, models.ScoreboardEntry{Run: name, RunSummary: summary})
}

// MatrixID returns the current matrix invocation id
func (b *StatusBoard) MatrixID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.matrixID
}

// Runs returns a copy of every run state in matrix order
func (b *StatusBoard) Runs() []RunState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]RunState, len(b.runs))
	for i, st := range b.runs {
		out[i] = *st
	}
	return out
}

// Run returns a copy of one run state
func (b *StatusBoard) Run(name string) (RunState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st, ok := b.index[name]
	if !ok {
		return RunState{}, false
	}
	return *st, true
}

// Scoreboard returns the completed runs so far, in matrix order
func (b *StatusBoard) Scoreboard() models.Scoreboard {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(models.Scoreboard, len(b.scoreboard))
	copy(out, b.scoreboard)
	return out
}
