package models

import "time"

// ResponseRecord is the outcome of one (prompt, replicate) attempt.
// On failure Error is set, Score is 0 and LatencyS is nil.
type ResponseRecord struct {
	PromptID         string   `json:"id"`
	Category         string   `json:"category"`
	ReplicateIndex   int      `json:"sample_idx"`
	LatencyS         *float64 `json:"latency_s"`
	PromptTokens     *int     `json:"prompt_tokens,omitempty"`
	CompletionTokens *int     `json:"completion_tokens,omitempty"`
	TotalTokens      *int     `json:"total_tokens,omitempty"`
	Score            *float64 `json:"score"`
	ExpectedHits     int      `json:"expected_hits"`
	ExpectedTotal    int      `json:"expected_total"`
	ForbiddenHits    int      `json:"forbidden_hits"`
	Response         string   `json:"response"`
	Error            string   `json:"error,omitempty"`
}

// Failed reports whether the attempt ended in an error
func (r ResponseRecord) Failed() bool {
	return r.Error != ""
}

// MetricSample is one resource sampler tick.
// Process fields are nil when no pid was supplied or the process could not be read.
type MetricSample struct {
	Timestamp       time.Time `json:"ts"`
	SystemCPUPct    float64   `json:"system_cpu_pct"`
	SystemMemPct    float64   `json:"system_mem_pct"`
	SystemMemUsedMB float64   `json:"system_mem_used_mb"`
	ProcCPUPct      *float64  `json:"proc_cpu_pct"`
	ProcRSSMB       *float64  `json:"proc_rss_mb"`
}
