package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jobtrail/core/internal/classify"
	"github.com/jobtrail/core/internal/database/models"
)

var (
	// ErrNotConfigured indicates the AI client is not configured
	ErrNotConfigured = errors.New("AI client not configured")
	// ErrAPICallFailed indicates the AI API call failed
	ErrAPICallFailed = errors.New("AI API call failed")
	// ErrInvalidResponse indicates the model's output did not match the expected schema
	ErrInvalidResponse = errors.New("invalid AI API response")
	// ErrUnsupportedProvider indicates an unsupported AI provider
	ErrUnsupportedProvider = errors.New("unsupported AI provider")
)

// Provider represents an AI provider
type Provider string

const (
	// ProviderOpenAI represents OpenAI API
	ProviderOpenAI Provider = "openai"
	// ProviderClaude represents Anthropic Claude API
	ProviderClaude Provider = "claude"
	// ProviderCustom represents a custom API endpoint
	ProviderCustom Provider = "custom"
)

// Client invokes the generative model for structured job extraction
type Client struct {
	provider    Provider
	apiKey      string
	model       string
	baseURL     string
	contextSize int
	httpClient  *http.Client
	configured  bool
}

// NewClient creates a new AI Client instance
func NewClient() *Client {
	return &Client{
		contextSize: defaultContextSize,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Configure configures the AI client with provider settings
func (c *Client) Configure(provider, apiKey, model string) {
	c.ConfigureWithBaseURL(provider, apiKey, model, "")
}

// ConfigureWithBaseURL configures the AI client with provider settings and custom base URL
func (c *Client) ConfigureWithBaseURL(provider, apiKey, model, baseURL string) {
	c.provider = Provider(strings.ToLower(provider))
	c.apiKey = apiKey
	c.model = model
	c.configured = apiKey != ""

	// Use custom base URL if provided
	if baseURL != "" {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	} else {
		switch c.provider {
		case ProviderOpenAI:
			c.baseURL = "https://api.openai.com/v1"
			if c.model == "" {
				c.model = "gpt-4o-mini"
			}
		case ProviderClaude:
			c.baseURL = "https://api.anthropic.com/v1"
			if c.model == "" {
				c.model = "claude-3-haiku-20240307"
			}
		default:
			c.provider = ProviderOpenAI
			c.baseURL = "https://api.openai.com/v1"
		}
	}
}

// SetBaseURL sets a custom base URL for the API
func (c *Client) SetBaseURL(url string) {
	c.baseURL = strings.TrimSuffix(url, "/")
}

// SetContextSize sets the model context window used for token budgeting
func (c *Client) SetContextSize(size int) {
	if size > 0 {
		c.contextSize = size
	}
}

// IsConfigured returns whether the client is configured
func (c *Client) IsConfigured() bool {
	return c.configured && c.apiKey != ""
}

// ChatMessage represents a message in a chat conversation
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents a chat completion request
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

// ChatResponse represents a chat completion response
type ChatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// sendChatRequest sends a chat completion request to the AI API
func (c *Client) sendChatRequest(messages []ChatMessage) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	request := ChatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   500,
		Temperature: 0.1,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPICallFailed, err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequest("POST", url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPICallFailed, err)
	}

	req.Header.Set("Content-Type", "application/json")

	// Set authorization header based on provider
	switch c.provider {
	case ProviderClaude:
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	default:
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPICallFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPICallFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrAPICallFailed, resp.StatusCode, string(respBody))
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	if chatResp.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrAPICallFailed, chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return "", ErrInvalidResponse
	}

	return chatResp.Choices[0].Message.Content, nil
}

// extraction is the wire contract for the model's answer. Every key must be
// present; pointer fields distinguish null from missing.
type extraction struct {
	IsJobRelated *bool   `json:"is_job_related"`
	Company      *string `json:"company"`
	Position     *string `json:"position"`
	Status       *string `json:"status"`
}

// ExtractJob asks the model for a structured job extraction of one email.
// The model must answer with a single JSON object holding exactly
// is_job_related, company, position and status; anything else is treated as
// a failed call so the circuit breaker can see it.
func (c *Client) ExtractJob(subject, from, body, promptOverride string) (*classify.Result, error) {
	// Truncate content if too long
	if len(body) > 3000 {
		body = body[:3000]
	}

	systemPrompt := promptOverride
	if systemPrompt == "" {
		systemPrompt = DefaultExtractionPrompt()
	}

	messages := []ChatMessage{
		{
			Role:    "system",
			Content: systemPrompt,
		},
		{
			Role:    "user",
			Content: fmt.Sprintf("From: %s\nSubject: %s\n\nBody:\n%s", from, subject, body),
		},
	}

	response, err := c.sendChatRequest(messages)
	if err != nil {
		return nil, err
	}

	ext, err := parseExtraction(response)
	if err != nil {
		return nil, err
	}

	res := &classify.Result{
		IsJobRelated: *ext.IsJobRelated,
		Source:       models.SourceDeep,
		ProducedAt:   time.Now(),
	}
	if ext.Company != nil {
		res.Company = strings.TrimSpace(*ext.Company)
	}
	if ext.Position != nil {
		res.Position = strings.TrimSpace(*ext.Position)
	}
	if ext.Status != nil {
		res.Status = models.JobStatus(*ext.Status)
	}
	res.Confidence = deriveConfidence(res)

	return res, nil
}

// parseExtraction validates the model's output against the wire contract.
// Strict on purpose: unknown keys, missing keys, trailing data or a bad
// status enum all fail the call.
func parseExtraction(raw string) (*extraction, error) {
	raw = stripCodeFence(strings.TrimSpace(raw))

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()

	var ext extraction
	if err := dec.Decode(&ext); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	// Exactly one JSON value is allowed
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrInvalidResponse)
	}

	if ext.IsJobRelated == nil {
		return nil, fmt.Errorf("%w: missing is_job_related", ErrInvalidResponse)
	}
	if ext.Status != nil && !models.JobStatus(*ext.Status).IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidResponse, *ext.Status)
	}

	return &ext, nil
}

// stripCodeFence removes a markdown ```json fence if the model wrapped its
// answer in one
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// deriveConfidence maps extraction completeness to a probability. The wire
// contract carries no confidence key, so a full extraction scores high and
// each missing field pulls the result toward the review band.
func deriveConfidence(res *classify.Result) float64 {
	if !res.IsJobRelated {
		return 0.92
	}

	confidence := 0.95
	if res.Company == "" {
		confidence -= 0.15
	}
	if res.Position == "" {
		confidence -= 0.15
	}
	if res.Status == "" {
		confidence -= 0.05
	}
	return confidence
}
