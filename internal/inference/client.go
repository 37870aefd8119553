// Package inference talks to an OpenAI-compatible chat-completion server.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultModel is sent as the model name; local servers ignore it
	DefaultModel = "local-model"

	// DefaultSystemPrompt is the system message preceding every prompt
	DefaultSystemPrompt = "You are a precise endpoint security assistant."

	// DefaultRequestTimeout bounds a single chat completion
	DefaultRequestTimeout = 90 * time.Second

	// ReadyProbeTimeout bounds a single readiness probe
	ReadyProbeTimeout = 2 * time.Second

	chatCompletionsPath = "/v1/chat/completions"
	modelsPath          = "/v1/models"
)

// Message is one chat turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the chat-completion request body
type ChatRequest struct {
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	Messages    []Message `json:"messages"`
}

// Usage holds token counts. Servers may omit any of them.
type Usage struct {
	PromptTokens     *int `json:"prompt_tokens,omitempty"`
	CompletionTokens *int `json:"completion_tokens,omitempty"`
	TotalTokens      *int `json:"total_tokens,omitempty"`
}

// ChatResponse is the subset of the chat-completion response we read
type ChatResponse struct {
	Choices []struct {
		Message *Message `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

// Completion is a successful chat completion with its wall-clock latency
type Completion struct {
	Content string
	Usage   Usage
	Latency time.Duration
}

// Client calls a chat-completion server
type Client struct {
	baseURL      string
	httpClient   *http.Client
	model        string
	systemPrompt string
	timeout      time.Duration
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithModel sets the model name sent in requests
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithSystemPrompt sets the system message
func WithSystemPrompt(prompt string) ClientOption {
	return func(c *Client) {
		if prompt != "" {
			c.systemPrompt = prompt
		}
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{},
		model:        DefaultModel,
		systemPrompt: DefaultSystemPrompt,
		timeout:      DefaultRequestTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the server base URL without a trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Complete sends prompt as the user message after the system preamble
func (c *Client) Complete(ctx context.Context, prompt string, temperature, topP float64) (*Completion, error) {
	return c.ChatCompletion(ctx, ChatRequest{
		Model:       c.model,
		Temperature: temperature,
		TopP:        topP,
		Messages: []Message{
			{Role: "system", Content: c.systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
}

// ChatCompletion posts req and returns the first choice's content.
// Latency covers sending the request and reading the full response body.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (*Completion, error) {
	reqURL := c.baseURL + chatCompletionsPath

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &RequestError{Operation: "chat completion", URL: reqURL, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	latency := time.Since(start)
	if err != nil {
		return nil, &RequestError{Operation: "chat completion", URL: reqURL, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Operation: "chat completion", StatusCode: resp.StatusCode, Body: excerpt(respBody)}
	}

	var result ChatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(result.Choices) == 0 {
		return nil, ErrNoChoices
	}
	if result.Choices[0].Message == nil {
		return nil, fmt.Errorf("%w: choice has no message", ErrMalformedPayload)
	}

	completion := &Completion{
		Content: result.Choices[0].Message.Content,
		Latency: latency,
	}
	if result.Usage != nil {
		completion.Usage = *result.Usage
	}
	return completion, nil
}

// Ready probes the models endpoint once. It returns nil only on HTTP 200.
func (c *Client) Ready(ctx context.Context) error {
	reqURL := c.baseURL + modelsPath

	ctx, cancel := context.WithTimeout(ctx, ReadyProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RequestError{Operation: "readiness probe", URL: reqURL, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Operation: "readiness probe", StatusCode: resp.StatusCode}
	}
	return nil
}
