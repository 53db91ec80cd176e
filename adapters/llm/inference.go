package llm

import (
	"context"
	"strings"

	"rapport/internal"
	"rapport/internal/config"
	"rapport/internal/errors"
	"rapport/models"
	"rapport/ports"
)

const assessmentPrompt = `You are a clinical supervisor reviewing a counseling practice session.
Evaluate the counselor's empathy, open questions, and pacing from the transcript.
Reply with two or three sentences of feedback, then a final line in the form "Score: N" where N is an integer from 1 to 10.`

// Client adapts a chat completions provider to the inference port. The model
// plays the simulated client during Respond and a supervisor during Assess.
type Client struct {
	chat   ChatClient
	logger *internal.Logger
}

// NewClient wraps an existing chat transport. Used directly by tests;
// production wiring goes through New.
func NewClient(chat ChatClient, logger *internal.Logger) *Client {
	return &Client{chat: chat, logger: logger}
}

// New picks the inference backend for the configured environment: the OpenAI
// client when an API key is present, the built-in heuristic responder
// otherwise.
func New(cfg config.InferenceConfig, logger *internal.Logger) ports.InferenceClient {
	if strings.TrimSpace(cfg.OpenAIKey) == "" {
		logger.Info("[Inference] OPENAI_API_KEY not set, using heuristic responder")
		return NewHeuristic()
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	logger.Info("[Inference] Using OpenAI backend: model=%s", cfg.Model)
	return NewClient(&OpenAIClient{
		APIKey:      cfg.OpenAIKey,
		BaseURL:     baseURL,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
	}, logger)
}

// Respond generates the simulated client's next reply. The model speaks as the
// client, so prior client turns go upstream as assistant messages and
// counselor turns as user messages.
func (c *Client) Respond(ctx context.Context, systemPrompt string, history []models.Turn) (*models.InferenceResult, error) {
	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, Message{Role: "system", Content: systemPrompt})
	for _, turn := range history {
		messages = append(messages, Message{Role: upstreamRole(turn.Role), Content: turn.Content})
	}

	result, err := c.chat.ChatCompletion(ctx, messages)
	if err != nil {
		c.logger.Warn("[Inference] Respond failed: %v", err)
		return nil, errors.UpstreamUnavailable("inference respond", err)
	}
	result.Content = strings.TrimSpace(result.Content)
	if result.Content == "" {
		return nil, errors.UpstreamUnavailable("inference respond", errEmptyReply)
	}
	return result, nil
}

// Assess grades the counselor's side of a finished transcript.
func (c *Client) Assess(ctx context.Context, history []models.Turn) (*models.InferenceResult, error) {
	messages := []Message{
		{Role: "system", Content: assessmentPrompt},
		{Role: "user", Content: renderTranscript(history)},
	}

	result, err := c.chat.ChatCompletion(ctx, messages)
	if err != nil {
		c.logger.Warn("[Inference] Assess failed: %v", err)
		return nil, errors.UpstreamUnavailable("inference assess", err)
	}
	result.Content = strings.TrimSpace(result.Content)
	if result.Content == "" {
		return nil, errors.UpstreamUnavailable("inference assess", errEmptyReply)
	}
	return result, nil
}

var errEmptyReply = errors.New(errors.CodeUpstreamUnavailable, "upstream returned an empty reply")

func upstreamRole(role models.Role) string {
	if role == models.RoleClient {
		return "assistant"
	}
	return "user"
}

func renderTranscript(history []models.Turn) string {
	var b strings.Builder
	for _, turn := range history {
		b.WriteString(string(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	return b.String()
}
