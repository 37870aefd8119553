package benchmark

import (
	"strings"

	"github.com/llm-bench/llm-bench/pkg/models"
)

// ForbiddenPenalty is subtracted from the expected-keyword score for each
// distinct forbidden keyword found in the response.
const ForbiddenPenalty = 0.25

// ScoreResult is the outcome of scoring one response
type ScoreResult struct {
	ExpectedHits  int     `json:"expected_hits"`
	ExpectedTotal int     `json:"expected_total"`
	ForbiddenHits int     `json:"forbidden_hits"`
	Misses        int     `json:"misses"`
	Score         float64 `json:"score"`
}

// Score matches expected and forbidden keywords against the response text
// (case-insensitive substring match) and returns a score in [0, 1].
// With no expected keywords the expected part scores 1.0.
func Score(response string, expected, forbidden []string) ScoreResult {
	text := strings.ToLower(response)

	hits := 0
	for _, k := range expected {
		if strings.Contains(text, strings.ToLower(k)) {
			hits++
		}
	}

	forbiddenHits := 0
	for _, k := range forbidden {
		if strings.Contains(text, strings.ToLower(k)) {
			forbiddenHits++
		}
	}

	expectedScore := 1.0
	if len(expected) > 0 {
		expectedScore = float64(hits) / float64(len(expected))
	}

	score := expectedScore - ForbiddenPenalty*float64(forbiddenHits)
	score = max(0.0, min(1.0, score))

	return ScoreResult{
		ExpectedHits:  hits,
		ExpectedTotal: len(expected),
		ForbiddenHits: forbiddenHits,
		Misses:        len(expected) - hits,
		Score:         round(score, 4),
	}
}

// ScorePrompt scores a response against a prompt's keyword sets
func ScorePrompt(response string, spec models.PromptSpec) ScoreResult {
	return Score(response, spec.ExpectedKeywords, spec.ForbiddenKeywords)
}
