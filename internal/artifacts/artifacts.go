// Package artifacts writes the on-disk outputs of a benchmark run.
package artifacts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// File names inside a run directory and at the output root
const (
	ResponsesFile          = "responses.jsonl"
	MetricsFile            = "metrics_samples.csv"
	SummaryFile            = "summary.json"
	ServerLogFile          = "server.log"
	RunConfigFile          = "run_config.yaml"
	ScoreboardFile         = "scoreboard.json"
	ScoreboardMarkdownFile = "scoreboard.md"
)

// RunDir returns the artifact directory for a named run
func RunDir(outputRoot, runName string) string {
	return filepath.Join(outputRoot, runName)
}

// EnsureDir creates dir and any missing parents
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// WriteJSON writes v as indented JSON, replacing any existing file
func WriteJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return WriteFile(path, buf.Bytes())
}

// ReadJSON decodes the JSON file at path into v
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// WriteYAML writes v as YAML, replacing any existing file
func WriteYAML(path string, v any) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return WriteFile(path, buf.Bytes())
}

// WriteFile writes data to path, creating the parent directory if needed
func WriteFile(path string, data []byte) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
