package benchmark

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-bench/llm-bench/internal/artifacts"
	"github.com/llm-bench/llm-bench/pkg/models"
)

func TestPercentile(t *testing.T) {
	t.Run("empty is absent", func(t *testing.T) {
		assert.Nil(t, Percentile(nil, 50))
	})

	t.Run("small sample returns max", func(t *testing.T) {
		got := Percentile([]float64{1, 2, 3, 4, 100}, 50)
		require.NotNil(t, got)
		assert.Equal(t, 100.0, *got)
	})

	t.Run("nearest rank index", func(t *testing.T) {
		values := make([]float64, 20)
		for i := range values {
			values[i] = float64(20 - i) // unsorted input
		}

		p99 := Percentile(values, 99)
		require.NotNil(t, p99)
		assert.Equal(t, 20.0, *p99) // index floor(20*0.99)=19

		p50 := Percentile(values, 50)
		require.NotNil(t, p50)
		assert.Equal(t, 11.0, *p50) // index 10

		p95 := Percentile(values, 95)
		require.NotNil(t, p95)
		assert.Equal(t, 20.0, *p95) // index 19
	})

	t.Run("does not reorder input", func(t *testing.T) {
		values := []float64{3, 1, 2}
		Percentile(values, 50)
		assert.Equal(t, []float64{3, 1, 2}, values)
	})
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil, nil)

	assert.Equal(t, 0, s.PromptCount)
	assert.Nil(t, s.MeanScore)
	assert.Nil(t, s.MinScore)
	assert.Nil(t, s.MeanLatencyS)
	assert.Nil(t, s.P50LatencyS)
	assert.Nil(t, s.LatencyP99P50Ratio)
	assert.Nil(t, s.MeanSystemCPUPct)
	assert.Nil(t, s.PeakProcRSSMB)
	assert.Nil(t, s.TotalPromptTokens)
}

func TestSummarize(t *testing.T) {
	records := []models.ResponseRecord{
		{PromptID: "a", LatencyS: models.Ptr(1.0), Score: models.Ptr(1.0), PromptTokens: models.Ptr(10), CompletionTokens: models.Ptr(5)},
		{PromptID: "a", ReplicateIndex: 1, LatencyS: models.Ptr(2.0), Score: models.Ptr(0.5), PromptTokens: models.Ptr(10), CompletionTokens: models.Ptr(7)},
		{PromptID: "b", Score: models.Ptr(0.0), Error: "timeout"},
	}
	samples := []models.MetricSample{
		{Timestamp: time.Unix(1, 0), SystemCPUPct: 10, SystemMemPct: 40, SystemMemUsedMB: 1000, ProcCPUPct: models.Ptr(50.0), ProcRSSMB: models.Ptr(200.0)},
		{Timestamp: time.Unix(2, 0), SystemCPUPct: 30, SystemMemPct: 60, SystemMemUsedMB: 1500},
	}

	s := Summarize(records, samples)

	assert.Equal(t, 3, s.PromptCount)
	assert.Equal(t, 2, s.SuccessCount)
	assert.Equal(t, 1, s.ErrorCount)

	require.NotNil(t, s.MeanScore)
	assert.Equal(t, 0.5, *s.MeanScore)
	require.NotNil(t, s.MinScore)
	assert.Equal(t, 0.0, *s.MinScore)

	require.NotNil(t, s.MeanLatencyS)
	assert.Equal(t, 1.5, *s.MeanLatencyS)
	require.NotNil(t, s.P50LatencyS)
	assert.Equal(t, 2.0, *s.P50LatencyS)
	require.NotNil(t, s.LatencyP99P50Ratio)
	assert.Equal(t, 1.0, *s.LatencyP99P50Ratio)

	require.NotNil(t, s.TotalPromptTokens)
	assert.Equal(t, 20, *s.TotalPromptTokens)
	require.NotNil(t, s.TotalCompletionTokens)
	assert.Equal(t, 12, *s.TotalCompletionTokens)

	require.NotNil(t, s.MeanSystemCPUPct)
	assert.Equal(t, 20.0, *s.MeanSystemCPUPct)
	require.NotNil(t, s.PeakSystemCPUPct)
	assert.Equal(t, 30.0, *s.PeakSystemCPUPct)
	require.NotNil(t, s.MeanSystemMemPct)
	assert.Equal(t, 50.0, *s.MeanSystemMemPct)
	require.NotNil(t, s.PeakSystemMemUsedMB)
	assert.Equal(t, 1500.0, *s.PeakSystemMemUsedMB)

	// Only one tick had a readable process
	require.NotNil(t, s.MeanProcCPUPct)
	assert.Equal(t, 50.0, *s.MeanProcCPUPct)
	require.NotNil(t, s.P99ProcRSSMB)
	assert.Equal(t, 200.0, *s.P99ProcRSSMB)
}

func TestSummarize_RoundsResourceMeans(t *testing.T) {
	samples := []models.MetricSample{
		{SystemCPUPct: 1},
		{SystemCPUPct: 1},
		{SystemCPUPct: 2},
	}

	s := Summarize(nil, samples)
	require.NotNil(t, s.MeanSystemCPUPct)
	assert.Equal(t, 1.333, *s.MeanSystemCPUPct)
}

func TestRound_HalfToEven(t *testing.T) {
	tests := []struct {
		v      float64
		places int
		want   float64
	}{
		{0.125, 2, 0.12},
		{0.375, 2, 0.38},
		{2.675, 2, 2.67},
		{1.0005, 3, 1.0},
		{0.00005, 4, 0.0001},
		{0.5, 0, 0},
		{1.5, 0, 2},
		{1.33333, 3, 1.333},
		{42, 4, 42},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, round(tt.v, tt.places), "round(%v, %d)", tt.v, tt.places)
	}
}

func TestSummarizeRunDir(t *testing.T) {
	dir := t.TempDir()

	responses, err := artifacts.CreateJSONL(filepath.Join(dir, artifacts.ResponsesFile))
	require.NoError(t, err)
	require.NoError(t, responses.Write(models.ResponseRecord{PromptID: "a", LatencyS: models.Ptr(0.25), Score: models.Ptr(0.75)}))
	require.NoError(t, responses.Write(models.ResponseRecord{PromptID: "b", Score: models.Ptr(0.0), Error: "boom"}))
	require.NoError(t, responses.Close())

	metrics, err := artifacts.CreateMetricsCSV(filepath.Join(dir, artifacts.MetricsFile))
	require.NoError(t, err)
	require.NoError(t, metrics.WriteSample(models.MetricSample{Timestamp: time.Now(), SystemCPUPct: 12.5, ProcRSSMB: models.Ptr(64.0)}))
	require.NoError(t, metrics.WriteSample(models.MetricSample{Timestamp: time.Now(), SystemCPUPct: 7.5}))
	require.NoError(t, metrics.Close())

	s, err := SummarizeRunDir(dir)
	require.NoError(t, err)

	assert.Equal(t, 2, s.PromptCount)
	assert.Equal(t, 1, s.ErrorCount)
	require.NotNil(t, s.MeanScore)
	assert.Equal(t, 0.375, *s.MeanScore)
	require.NotNil(t, s.MeanSystemCPUPct)
	assert.Equal(t, 10.0, *s.MeanSystemCPUPct)
	require.NotNil(t, s.PeakProcRSSMB)
	assert.Equal(t, 64.0, *s.PeakProcRSSMB)
	assert.Nil(t, s.MeanProcCPUPct)
}

func TestSummarizeRunDir_MissingArtifacts(t *testing.T) {
	_, err := SummarizeRunDir(t.TempDir())
	assert.Error(t, err)
}

func TestParseResponsesJSONL_SkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), artifacts.ResponsesFile)
	data := `{"id":"a","sample_idx":0,"latency_s":1.5,"score":1}
not json
{"id":"b","sample_idx":1,"latency_s":null,"score":0,"error":"timeout","response":""}
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	records, err := ParseResponsesJSONL(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1.5, *records[0].LatencyS)
	assert.Nil(t, records[1].LatencyS)
	assert.True(t, records[1].Failed())
	assert.Equal(t, 1, records[1].ReplicateIndex)
}

func TestParseMetricsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), artifacts.MetricsFile)
	data := `ts,system_cpu_pct,system_mem_pct,system_mem_used_mb,proc_cpu_pct,proc_rss_mb
1770345855.5,12.5,40.1,2048.25,,
1770345856.0,20,41,2050,99.5,512.75
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	samples, err := ParseMetricsCSV(path)
	require.NoError(t, err)
	require.Len(t, samples, 2)

	assert.Equal(t, 12.5, samples[0].SystemCPUPct)
	assert.Nil(t, samples[0].ProcCPUPct)
	assert.Nil(t, samples[0].ProcRSSMB)
	require.NotNil(t, samples[1].ProcRSSMB)
	assert.Equal(t, 512.75, *samples[1].ProcRSSMB)
	assert.True(t, samples[1].Timestamp.After(samples[0].Timestamp))
}

func TestParseMetricsCSV_MissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), artifacts.MetricsFile)
	require.NoError(t, os.WriteFile(path, []byte("ts,system_cpu_pct\n1,2\n"), 0644))

	_, err := ParseMetricsCSV(path)
	assert.Error(t, err)
}
