package postgres

import (
	"context"

	"rapport/internal/errors"
	"rapport/models"
	"rapport/ports"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// UsageRepositoryImpl implements UsageRepository for PostgreSQL
type UsageRepositoryImpl struct {
	db *sqlx.DB
}

// NewUsageRepository creates a new PostgreSQL usage repository
func NewUsageRepository(db *sqlx.DB) ports.UsageRepository {
	return &UsageRepositoryImpl{db: db}
}

// RecordUsage stores one API call's token counts
func (r *UsageRepositoryImpl) RecordUsage(ctx context.Context, usage *models.InferenceUsage) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO inference_usage (
			id, session_id, model, operation_type,
			prompt_tokens, completion_tokens, total_tokens, created_at
		) VALUES (
			:id, :session_id, :model, :operation_type,
			:prompt_tokens, :completion_tokens, :total_tokens, :created_at
		)
	`, usage)
	return err
}

// GetSessionUsage aggregates token usage across a session's calls
func (r *UsageRepositoryImpl) GetSessionUsage(ctx context.Context, sessionID uuid.UUID) (*models.UsageSummary, error) {
	var summary models.UsageSummary
	err := r.db.GetContext(ctx, &summary, `
		SELECT $1::uuid AS session_id,
		       COALESCE(SUM(total_tokens), 0) AS total_tokens,
		       COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens,
		       COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
		       COUNT(*) AS request_count
		FROM inference_usage
		WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return nil, errors.StorageUnavailable("usage read", err)
	}
	return &summary, nil
}
