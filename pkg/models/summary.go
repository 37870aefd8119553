package models

// RunSummary aggregates one run's records and samples.
// Every aggregate is nil when there was no data to compute it from.
type RunSummary struct {
	PromptCount  int `json:"prompt_count"`
	SuccessCount int `json:"success_count"`
	ErrorCount   int `json:"error_count"`

	MeanScore *float64 `json:"mean_score"`
	MinScore  *float64 `json:"min_score"`

	MeanLatencyS       *float64 `json:"mean_latency_s"`
	P50LatencyS        *float64 `json:"p50_latency_s"`
	P95LatencyS        *float64 `json:"p95_latency_s"`
	P99LatencyS        *float64 `json:"p99_latency_s"`
	LatencyP99P50Ratio *float64 `json:"latency_p99_p50_ratio"`

	TotalPromptTokens     *int `json:"total_prompt_tokens"`
	TotalCompletionTokens *int `json:"total_completion_tokens"`

	MeanSystemCPUPct    *float64 `json:"mean_system_cpu_pct"`
	PeakSystemCPUPct    *float64 `json:"peak_system_cpu_pct"`
	P99SystemCPUPct     *float64 `json:"p99_system_cpu_pct"`
	MeanSystemMemPct    *float64 `json:"mean_system_mem_pct"`
	PeakSystemMemUsedMB *float64 `json:"peak_system_mem_used_mb"`

	MeanProcCPUPct *float64 `json:"mean_proc_cpu_pct"`
	PeakProcCPUPct *float64 `json:"peak_proc_cpu_pct"`
	P99ProcCPUPct  *float64 `json:"p99_proc_cpu_pct"`
	MeanProcRSSMB  *float64 `json:"mean_proc_rss_mb"`
	PeakProcRSSMB  *float64 `json:"peak_proc_rss_mb"`
	P99ProcRSSMB   *float64 `json:"p99_proc_rss_mb"`
}

// ScoreboardEntry is a run name plus its summary, flattened into one JSON object
type ScoreboardEntry struct {
	Run string `json:"run"`
	RunSummary
}

// Scoreboard is the ordered list of completed runs, in matrix order
type Scoreboard []ScoreboardEntry
