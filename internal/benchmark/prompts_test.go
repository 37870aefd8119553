package benchmark

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadPrompts(t *testing.T) {
	path := writeFile(t, "prompts.jsonl", `{"id":"p1","category":"triage","prompt":"first","expected_keywords":["a","b"]}

{"id":"p2","prompt":"second","forbidden_keywords":["x"]}
`)

	prompts, err := LoadPrompts(path)
	require.NoError(t, err)
	require.Len(t, prompts, 2)

	assert.Equal(t, "p1", prompts[0].ID)
	assert.Equal(t, "triage", prompts[0].Category)
	assert.Equal(t, []string{"a", "b"}, prompts[0].ExpectedKeywords)
	assert.Equal(t, "second", prompts[1].Prompt)
	assert.Equal(t, []string{"x"}, prompts[1].ForbiddenKeywords)
	assert.Empty(t, prompts[1].ExpectedKeywords)
}

func TestLoadPrompts_MissingPrompt(t *testing.T) {
	path := writeFile(t, "prompts.jsonl", `{"id":"p1","prompt":"ok"}
{"id":"p2","category":"broken"}
`)

	_, err := LoadPrompts(path)
	require.Error(t, err)

	var pfe *PromptFileError
	require.True(t, errors.As(err, &pfe))
	assert.Equal(t, 2, pfe.Line)
	assert.Contains(t, err.Error(), "prompt")
}

func TestLoadPrompts_InvalidJSON(t *testing.T) {
	path := writeFile(t, "prompts.jsonl", "{not json}\n")

	_, err := LoadPrompts(path)
	var pfe *PromptFileError
	require.True(t, errors.As(err, &pfe))
	assert.Equal(t, 1, pfe.Line)
}

func TestLoadPrompts_Empty(t *testing.T) {
	path := writeFile(t, "prompts.jsonl", "\n\n")

	_, err := LoadPrompts(path)
	assert.ErrorIs(t, err, ErrNoPrompts)
}

func TestLoadPrompts_MissingFile(t *testing.T) {
	_, err := LoadPrompts(filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.Error(t, err)
}
