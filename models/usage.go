package models

import (
	"time"

	"github.com/google/uuid"
)

// InferenceUsage represents a single LLM API call's token usage
type InferenceUsage struct {
	ID               uuid.UUID `json:"id" db:"id"`
	SessionID        uuid.UUID `json:"session_id" db:"session_id"`
	Model            string    `json:"model" db:"model"`
	OperationType    string    `json:"operation_type" db:"operation_type"`
	PromptTokens     int       `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens" db:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens" db:"total_tokens"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// UsageData represents raw usage data from the provider API
type UsageData struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Model            string `json:"model"`
}

// InferenceResult carries a model reply together with its usage data.
// Usage is nil when the provider omitted it or the heuristic responder
// produced the reply.
type InferenceResult struct {
	Content string
	Usage   *UsageData
}

// UsageSummary provides aggregated token usage for a session
type UsageSummary struct {
	SessionID        uuid.UUID `json:"session_id" db:"session_id"`
	TotalTokens      int       `json:"total_tokens" db:"total_tokens"`
	PromptTokens     int       `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens" db:"completion_tokens"`
	RequestCount     int       `json:"request_count" db:"request_count"`
}

// Operation types for categorization
const (
	OpRespond = "client_response"
	OpAssess  = "session_assessment"
)
