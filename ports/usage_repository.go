package ports

import (
	"context"

	"rapport/models"

	"github.com/google/uuid"
)

// UsageRepository records inference token usage for cost accounting
type UsageRepository interface {
	// RecordUsage stores one API call's token counts
	RecordUsage(ctx context.Context, usage *models.InferenceUsage) error

	// GetSessionUsage aggregates token usage across a session's calls
	GetSessionUsage(ctx context.Context, sessionID uuid.UUID) (*models.UsageSummary, error)
}
