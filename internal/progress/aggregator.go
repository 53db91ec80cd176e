package progress

import (
	"context"

	"rapport/internal"
	"rapport/internal/errors"
	"rapport/models"
	"rapport/ports"

	"github.com/google/uuid"
)

// Aggregator folds completed-session scores into per-user aggregates. Many
// sessions for one user can finish at once, so the read-modify-write runs
// optimistically: read the aggregate, fold the score in, and commit only if
// the stored session count is still the one that was read. A lost race
// re-reads and retries up to maxRetries times before giving up with
// AggregationConflict.
type Aggregator struct {
	repo       ports.ProgressRepository
	logger     *internal.Logger
	maxRetries int
}

// NewAggregator creates an aggregator with bounded retry behavior
func NewAggregator(repo ports.ProgressRepository, logger *internal.Logger, maxRetries int) *Aggregator {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Aggregator{
		repo:       repo,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// RecordCompletion adds one session's score to the user's aggregate and
// returns the committed state
func (a *Aggregator) RecordCompletion(ctx context.Context, userID uuid.UUID, score int) (*models.UserProgress, error) {
	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		current, err := a.repo.GetProgress(ctx, userID)
		if err != nil && !errors.IsCode(err, errors.CodeNotFound) {
			return nil, err
		}

		if current == nil {
			fresh := models.NewUserProgress(userID).WithScore(score)
			insertErr := a.repo.InsertProgress(ctx, &fresh)
			if insertErr == nil {
				return &fresh, nil
			}
			if errors.IsCode(insertErr, errors.CodeAggregationConflict) {
				// Another writer created the row first; re-read and fold in
				a.logger.Debug("[ProgressAggregator] user %s lost insert race, attempt %d", userID, attempt)
				continue
			}
			return nil, insertErr
		}

		updated := current.WithScore(score)
		swapped, err := a.repo.CompareAndSwapProgress(ctx, &updated, current.SessionCount)
		if err != nil {
			return nil, err
		}
		if swapped {
			return &updated, nil
		}
		a.logger.Debug("[ProgressAggregator] user %s lost swap race at count %d, attempt %d", userID, current.SessionCount, attempt)
	}

	return nil, errors.AggregationConflict(userID.String(), a.maxRetries)
}
