package models

import "time"

// RunStatus represents the lifecycle state of a single run in the matrix
type RunStatus string

const (
	RunStatusIdle          RunStatus = "idle"           // Not started yet
	RunStatusLaunching     RunStatus = "launching"      // Server process being spawned
	RunStatusAwaitingReady RunStatus = "awaiting_ready" // Polling the models endpoint
	RunStatusRunning       RunStatus = "running"        // Prompts being issued, sampler active
	RunStatusTearingDown   RunStatus = "tearing_down"   // Signalling the server process group
	RunStatusCompleted     RunStatus = "completed"      // Summary written, scoreboard entry added
	RunStatusFailed        RunStatus = "failed"         // Launch, readiness or benchmark failed
)

// IsTerminal reports whether no further transitions are possible
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// RunConfig is one fully resolved entry of the run matrix.
// Global defaults have already been merged in.
type RunConfig struct {
	Name        string            `json:"name" yaml:"name" validate:"required"`
	ServerBin   string            `json:"llama_server_bin" yaml:"llama_server_bin" validate:"required"`
	ModelPath   string            `json:"model_path" yaml:"model_path" validate:"required"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Temperature float64           `json:"temperature" yaml:"temperature" validate:"gte=0"`
	TopP        float64           `json:"top_p" yaml:"top_p" validate:"gte=0,lte=1"`
}

// BenchmarkOptions controls a single pass of the request runner
type BenchmarkOptions struct {
	BaseURL          string        `json:"base_url" yaml:"base_url"`
	ModelName        string        `json:"model_name" yaml:"model_name"`
	SystemPrompt     string        `json:"system_prompt" yaml:"system_prompt"`
	SamplesPerPrompt int           `json:"samples_per_prompt" yaml:"samples_per_prompt"`
	Temperature      float64       `json:"temperature" yaml:"temperature"`
	TopP             float64       `json:"top_p" yaml:"top_p"`
	RequestTimeout   time.Duration `json:"request_timeout" yaml:"request_timeout"`
	RequestInterval  time.Duration `json:"request_interval,omitempty" yaml:"request_interval,omitempty"`
}

// Ptr returns a pointer to v. Used for optional numeric fields.
func Ptr[T any](v T) *T {
	return &v
}
