package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rapport/models"
)

// Message is one chat-completion message sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatClient is the transport-level contract for a chat completions provider.
type ChatClient interface {
	ChatCompletion(ctx context.Context, messages []Message) (*models.InferenceResult, error)
}

// MockChatClient is a mock chat client for testing
type MockChatClient struct {
	Response string            // Set this for testing
	Usage    *models.UsageData // Optional usage payload
	Error    error             // Set this to simulate errors
}

func (m *MockChatClient) ChatCompletion(ctx context.Context, messages []Message) (*models.InferenceResult, error) {
	if m.Error != nil {
		return nil, m.Error
	}
	if m.Response != "" {
		return &models.InferenceResult{Content: m.Response, Usage: m.Usage}, nil
	}
	// Default mock response
	return &models.InferenceResult{
		Content: "I've been feeling pretty anxious lately, to be honest.",
		Usage:   m.Usage,
	}, nil
}

// OpenAIClient implements ChatClient for OpenAI
type OpenAIClient struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

func (c *OpenAIClient) ChatCompletion(ctx context.Context, messages []Message) (*models.InferenceResult, error) {
	if strings.TrimSpace(c.Model) == "" {
		return nil, fmt.Errorf("missing model")
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	type reqBody struct {
		Model       string    `json:"model"`
		Messages    []Message `json:"messages"`
		Temperature float64   `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
	}
	body := reqBody{
		Model:       c.Model,
		Messages:    messages,
		Temperature: c.Temperature,
		MaxTokens:   maxTokens,
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	client := &http.Client{Timeout: c.Timeout}
	url := strings.TrimRight(c.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	respRaw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("openai http %d: %s", resp.StatusCode, string(respRaw))
	}

	type choice struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	type usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	}
	type respBody struct {
		Model   string   `json:"model"`
		Choices []choice `json:"choices"`
		Usage   *usage   `json:"usage"`
	}
	var decoded respBody
	if err := json.Unmarshal(respRaw, &decoded); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("openai response missing choices")
	}

	result := &models.InferenceResult{Content: decoded.Choices[0].Message.Content}
	if decoded.Usage != nil {
		model := decoded.Model
		if model == "" {
			model = c.Model
		}
		result.Usage = &models.UsageData{
			PromptTokens:     decoded.Usage.PromptTokens,
			CompletionTokens: decoded.Usage.CompletionTokens,
			TotalTokens:      decoded.Usage.TotalTokens,
			Model:            model,
		}
	}
	return result, nil
}
