package benchmark

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/llm-bench/llm-bench/pkg/models"
)

// ErrNoPrompts is returned when a prompt file contains no prompts
var ErrNoPrompts = errors.New("prompt file contains no prompts")

// PromptFileError describes a malformed line in a prompt file
type PromptFileError struct {
	Path string
	Line int
	Err  error
}

func (e *PromptFileError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *PromptFileError) Unwrap() error {
	return e.Err
}

// LoadPrompts reads a JSONL prompt set. Blank lines are skipped and every
// remaining line must be a JSON object with a non-empty "prompt" field.
func LoadPrompts(path string) ([]models.PromptSpec, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open prompt file: %w", err)
	}
	defer file.Close()

	var prompts []models.PromptSpec
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var spec models.PromptSpec
		if err := json.Unmarshal([]byte(line), &spec); err != nil {
			return nil, &PromptFileError{Path: path, Line: lineNum, Err: err}
		}
		if strings.TrimSpace(spec.Prompt) == "" {
			return nil, &PromptFileError{Path: path, Line: lineNum, Err: errors.New("missing required field \"prompt\"")}
		}
		prompts = append(prompts, spec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read prompt file: %w", err)
	}

	if len(prompts) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoPrompts)
	}
	return prompts, nil
}
