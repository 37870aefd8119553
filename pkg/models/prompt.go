package models

// PromptSpec is one line of the prompt set
type PromptSpec struct {
	ID                string   `json:"id,omitempty"`
	Category          string   `json:"category,omitempty"`
	Prompt            string   `json:"prompt"`
	ExpectedKeywords  []string `json:"expected_keywords,omitempty"`
	ForbiddenKeywords []string `json:"forbidden_keywords,omitempty"`
}
