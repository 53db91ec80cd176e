package ports

import (
	"context"

	"rapport/models"
)

// InferenceClient produces simulated client replies and end-of-session
// assessments. Implementations may fail; callers substitute fixed fallback
// text rather than surfacing the failure to the session.
type InferenceClient interface {
	// Respond generates the simulated client's next reply given the
	// scenario's system prompt and the conversation so far
	Respond(ctx context.Context, systemPrompt string, history []models.Turn) (*models.InferenceResult, error)

	// Assess generates feedback on the counselor's performance across
	// the full conversation
	Assess(ctx context.Context, history []models.Turn) (*models.InferenceResult, error)
}
