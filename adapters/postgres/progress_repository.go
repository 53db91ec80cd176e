package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"

	"rapport/internal/errors"
	"rapport/models"
	"rapport/ports"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ProgressRepositoryImpl implements ProgressRepository for PostgreSQL
type ProgressRepositoryImpl struct {
	db *sqlx.DB
}

// NewProgressRepository creates a new PostgreSQL progress repository
func NewProgressRepository(db *sqlx.DB) ports.ProgressRepository {
	return &ProgressRepositoryImpl{db: db}
}

// GetProgress retrieves a user's aggregate
func (r *ProgressRepositoryImpl) GetProgress(ctx context.Context, userID uuid.UUID) (*models.UserProgress, error) {
	var progress models.UserProgress
	err := r.db.GetContext(ctx, &progress, `
		SELECT user_id, session_count, average_score, updated_at
		FROM user_progress
		WHERE user_id = $1
	`, userID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("user progress")
	}
	if err != nil {
		return nil, errors.StorageUnavailable("progress read", err)
	}
	return &progress, nil
}

// InsertProgress creates the first aggregate row for a user. Losing the
// insert race to another writer surfaces as AggregationConflict so the
// caller re-reads and folds its score into the winner's row.
func (r *ProgressRepositoryImpl) InsertProgress(ctx context.Context, progress *models.UserProgress) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO user_progress (user_id, session_count, average_score, updated_at)
		VALUES (:user_id, :session_count, :average_score, :updated_at)
	`, progress)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return errors.AggregationConflict(progress.UserID.String(), 1)
		}
		return errors.StorageUnavailable("progress insert", err)
	}
	return nil
}

// CompareAndSwapProgress commits the aggregate only if the stored session
// count still matches what the caller read
func (r *ProgressRepositoryImpl) CompareAndSwapProgress(ctx context.Context, progress *models.UserProgress, expectedCount int) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE user_progress
		SET session_count = $1, average_score = $2, updated_at = $3
		WHERE user_id = $4 AND session_count = $5
	`, progress.SessionCount, progress.AverageScore, progress.UpdatedAt, progress.UserID, expectedCount)
	if err != nil {
		return false, errors.StorageUnavailable("progress swap", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.StorageUnavailable("progress swap", err)
	}
	return rows == 1, nil
}

// ListProgress returns aggregates ordered by most recently updated
func (r *ProgressRepositoryImpl) ListProgress(ctx context.Context, limit int) ([]*models.UserProgress, error) {
	var rows []*models.UserProgress
	err := r.db.SelectContext(ctx, &rows, `
		SELECT user_id, session_count, average_score, updated_at
		FROM user_progress
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, errors.StorageUnavailable("progress list", err)
	}
	return rows, nil
}
