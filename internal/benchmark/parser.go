package benchmark

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/llm-bench/llm-bench/internal/artifacts"
	"github.com/llm-bench/llm-bench/pkg/models"
)

// ParseResponsesJSONL reads the response records written by the request runner.
// Blank and malformed lines are skipped.
func ParseResponsesJSONL(path string) ([]models.ResponseRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []models.ResponseRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var r models.ResponseRecord
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			continue // Skip malformed lines
		}
		records = append(records, r)
	}
	return records, scanner.Err()
}

// ParseMetricsCSV reads the resource samples written by the sampler.
// Columns are looked up by header name; empty process cells parse as nil.
func ParseMetricsCSV(path string) ([]models.MetricSample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, name := range artifacts.MetricsHeader {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	cell := func(record []string, name string) string {
		i := cols[name]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var samples []models.MetricSample
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		ts, err := artifacts.ParseTimestamp(cell(record, "ts"))
		if err != nil {
			continue
		}

		samples = append(samples, models.MetricSample{
			Timestamp:       ts,
			SystemCPUPct:    parseFloat(cell(record, "system_cpu_pct")),
			SystemMemPct:    parseFloat(cell(record, "system_mem_pct")),
			SystemMemUsedMB: parseFloat(cell(record, "system_mem_used_mb")),
			ProcCPUPct:      parseOptionalFloat(cell(record, "proc_cpu_pct")),
			ProcRSSMB:       parseOptionalFloat(cell(record, "proc_rss_mb")),
		})
	}
	return samples, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseOptionalFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
