package models

import "time"

// MatrixStatus is the outcome of one matrix invocation
type MatrixStatus string

const (
	MatrixStatusRunning   MatrixStatus = "running"
	MatrixStatusCompleted MatrixStatus = "completed" // every run completed
	MatrixStatusPartial   MatrixStatus = "partial"   // some runs failed, the rest were attempted
	MatrixStatusAborted   MatrixStatus = "aborted"   // stopped after a failed run or interrupt
)

// MatrixRecord is one invocation of the matrix command
type MatrixRecord struct {
	ID          string       `json:"id"`
	ConfigPath  string       `json:"config_path"`
	Status      MatrixStatus `json:"status"`
	RunCount    int          `json:"run_count"`
	FailedCount int          `json:"failed_count"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
}

// RunResult is the stored outcome of one run, completed or failed
type RunResult struct {
	ID         string      `json:"id"`
	MatrixID   string      `json:"matrix_id"`
	RunName    string      `json:"run_name"`
	Status     RunStatus   `json:"status"`
	Error      string      `json:"error,omitempty"`
	Config     RunConfig   `json:"config"`
	Summary    *RunSummary `json:"summary,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// Duration is the wall-clock time from launch to teardown
func (r RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// HistoryQuery filters stored run results
type HistoryQuery struct {
	MatrixID string    `json:"matrix_id,omitempty" form:"matrix_id"`
	RunName  string    `json:"run_name,omitempty" form:"run"`
	Status   RunStatus `json:"status,omitempty" form:"status"`
	Limit    int       `json:"limit,omitempty" form:"limit" binding:"omitempty,min=1,max=1000"`
}
