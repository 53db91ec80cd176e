package ports

import (
	"context"

	"rapport/models"

	"github.com/google/uuid"
)

// ProgressRepository stores per-user aggregates. Concurrent updates are
// resolved optimistically: CompareAndSwapProgress only commits when the
// stored session count still matches what the caller read.
type ProgressRepository interface {
	// GetProgress retrieves a user's aggregate, NotFound when absent
	GetProgress(ctx context.Context, userID uuid.UUID) (*models.UserProgress, error)

	// InsertProgress creates the first aggregate row for a user. A
	// concurrent insert surfaces as AggregationConflict so the caller
	// can re-read and retry.
	InsertProgress(ctx context.Context, progress *models.UserProgress) error

	// CompareAndSwapProgress writes the aggregate if the stored session
	// count equals expectedCount. Returns false when another writer got
	// there first.
	CompareAndSwapProgress(ctx context.Context, progress *models.UserProgress, expectedCount int) (bool, error)

	// ListProgress returns aggregates ordered by most recently updated
	ListProgress(ctx context.Context, limit int) ([]*models.UserProgress, error)
}
