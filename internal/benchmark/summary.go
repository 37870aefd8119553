package benchmark

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/llm-bench/llm-bench/internal/artifacts"
	"github.com/llm-bench/llm-bench/pkg/models"
)

// Percentile returns the nearest-rank p-th percentile of values, rounded to
// four decimals. Fewer than ten values yield the maximum. Empty input yields nil.
func Percentile(values []float64, p float64) *float64 {
	if len(values) == 0 {
		return nil
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) < 10 {
		return models.Ptr(round(sorted[len(sorted)-1], 4))
	}

	idx := int(math.Floor(float64(len(sorted)) * p / 100))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return models.Ptr(round(sorted[idx], 4))
}

// Summarize aggregates a run's response records and resource samples.
// It must only be called once the runner has returned and the sampler has stopped.
func Summarize(records []models.ResponseRecord, samples []models.MetricSample) models.RunSummary {
	var (
		scores, latencies                []float64
		promptTokens, completionTokens   int
		havePromptTok, haveCompletionTok bool
		sysCPU, sysMem, sysMemUsed       []float64
		procCPU, procRSS                 []float64
	)

	summary := models.RunSummary{PromptCount: len(records)}

	for _, r := range records {
		if r.Failed() {
			summary.ErrorCount++
		} else {
			summary.SuccessCount++
		}
		if r.Score != nil {
			scores = append(scores, *r.Score)
		}
		if r.LatencyS != nil {
			latencies = append(latencies, *r.LatencyS)
		}
		if r.PromptTokens != nil {
			promptTokens += *r.PromptTokens
			havePromptTok = true
		}
		if r.CompletionTokens != nil {
			completionTokens += *r.CompletionTokens
			haveCompletionTok = true
		}
	}

	for _, s := range samples {
		sysCPU = append(sysCPU, s.SystemCPUPct)
		sysMem = append(sysMem, s.SystemMemPct)
		sysMemUsed = append(sysMemUsed, s.SystemMemUsedMB)
		if s.ProcCPUPct != nil {
			procCPU = append(procCPU, *s.ProcCPUPct)
		}
		if s.ProcRSSMB != nil {
			procRSS = append(procRSS, *s.ProcRSSMB)
		}
	}

	summary.MeanScore = mean(scores, 4)
	summary.MinScore = minimum(scores, 4)

	summary.MeanLatencyS = mean(latencies, 4)
	summary.P50LatencyS = Percentile(latencies, 50)
	summary.P95LatencyS = Percentile(latencies, 95)
	summary.P99LatencyS = Percentile(latencies, 99)
	if summary.P50LatencyS != nil && summary.P99LatencyS != nil && *summary.P50LatencyS != 0 {
		summary.LatencyP99P50Ratio = models.Ptr(round(*summary.P99LatencyS / *summary.P50LatencyS, 2))
	}

	if havePromptTok {
		summary.TotalPromptTokens = models.Ptr(promptTokens)
	}
	if haveCompletionTok {
		summary.TotalCompletionTokens = models.Ptr(completionTokens)
	}

	summary.MeanSystemCPUPct = mean(sysCPU, 3)
	summary.PeakSystemCPUPct = maximum(sysCPU, 3)
	summary.P99SystemCPUPct = Percentile(sysCPU, 99)
	summary.MeanSystemMemPct = mean(sysMem, 3)
	summary.PeakSystemMemUsedMB = maximum(sysMemUsed, 3)

	summary.MeanProcCPUPct = mean(procCPU, 3)
	summary.PeakProcCPUPct = maximum(procCPU, 3)
	summary.P99ProcCPUPct = Percentile(procCPU, 99)
	summary.MeanProcRSSMB = mean(procRSS, 3)
	summary.PeakProcRSSMB = maximum(procRSS, 3)
	summary.P99ProcRSSMB = Percentile(procRSS, 99)

	return summary
}

// SummarizeRunDir recomputes a run summary from the artifacts in dir.
// A missing metrics file leaves the resource fields null.
func SummarizeRunDir(dir string) (models.RunSummary, error) {
	records, err := ParseResponsesJSONL(filepath.Join(dir, artifacts.ResponsesFile))
	if err != nil {
		return models.RunSummary{}, fmt.Errorf("parsing responses: %w", err)
	}

	samples, err := ParseMetricsCSV(filepath.Join(dir, artifacts.MetricsFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return models.RunSummary{}, fmt.Errorf("parsing metrics samples: %w", err)
	}

	return Summarize(records, samples), nil
}

func mean(values []float64, places int) *float64 {
	if len(values) == 0 {
		return nil
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return models.Ptr(round(sum/float64(len(values)), places))
}

func minimum(values []float64, places int) *float64 {
	if len(values) == 0 {
		return nil
	}
	m := values[0]
	for _, v := range values[1:] {
		m = math.Min(m, v)
	}
	return models.Ptr(round(m, places))
}

func maximum(values []float64, places int) *float64 {
	if len(values) == 0 {
		return nil
	}
	m := values[0]
	for _, v := range values[1:] {
		m = math.Max(m, v)
	}
	return models.Ptr(round(m, places))
}

// round rounds v to places decimals, resolving exact ties to the even digit.
// Formatting works on the exact binary value, so 2.675 (stored just below)
// rounds down while 0.125 (exact) rounds to 0.12.
func round(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', places, 64), 64)
	if err != nil {
		return v
	}
	return r
}
