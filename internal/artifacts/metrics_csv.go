package artifacts

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/llm-bench/llm-bench/pkg/models"
)

// MetricsHeader is the column order of metrics_samples.csv
var MetricsHeader = []string{
	"ts",
	"system_cpu_pct",
	"system_mem_pct",
	"system_mem_used_mb",
	"proc_cpu_pct",
	"proc_rss_mb",
}

// MetricsWriter writes sampler ticks as CSV rows, flushing each row
type MetricsWriter struct {
	mu     sync.Mutex
	csv    *csv.Writer
	closer io.Closer
}

// NewMetricsWriter writes the header to w and returns a row writer
func NewMetricsWriter(w io.Writer) (*MetricsWriter, error) {
	mw := &MetricsWriter{csv: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		mw.closer = c
	}
	if err := mw.csv.Write(MetricsHeader); err != nil {
		return nil, err
	}
	mw.csv.Flush()
	return mw, mw.csv.Error()
}

// CreateMetricsCSV truncates or creates the file at path and writes the header
func CreateMetricsCSV(path string) (*MetricsWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	mw, err := NewMetricsWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return mw, nil
}

// WriteSample appends one row. Absent process values become empty cells.
func (m *MetricsWriter) WriteSample(s models.MetricSample) error {
	row := []string{
		FormatTimestamp(s.Timestamp),
		formatFloat(s.SystemCPUPct),
		formatFloat(s.SystemMemPct),
		formatFloat(s.SystemMemUsedMB),
		formatOptional(s.ProcCPUPct),
		formatOptional(s.ProcRSSMB),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.csv.Write(row); err != nil {
		return err
	}
	m.csv.Flush()
	return m.csv.Error()
}

// Close flushes and closes the underlying file
func (m *MetricsWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.csv.Flush()
	if m.closer == nil {
		return m.csv.Error()
	}
	err := m.closer.Close()
	m.closer = nil
	return err
}

// FormatTimestamp renders t as fractional Unix seconds
func FormatTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}

// ParseTimestamp is the inverse of FormatTimestamp
func ParseTimestamp(s string) (time.Time, error) {
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return time.UnixMicro(int64(math.Round(secs * 1e6))), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
