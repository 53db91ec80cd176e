package postgres

import (
	"context"
	"database/sql"

	"rapport/internal/errors"
	"rapport/models"
	"rapport/ports"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// SessionMirrorRepositoryImpl implements SessionMirrorRepository for PostgreSQL
type SessionMirrorRepositoryImpl struct {
	db *sqlx.DB
}

// NewSessionMirrorRepository creates a new PostgreSQL session mirror repository
func NewSessionMirrorRepository(db *sqlx.DB) ports.SessionMirrorRepository {
	return &SessionMirrorRepositoryImpl{db: db}
}

// UpsertSession inserts or refreshes a session row. Start and end both land
// here; the conflict arm makes replayed facts harmless.
func (r *SessionMirrorRepositoryImpl) UpsertSession(ctx context.Context, sess *models.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, scenario, state, started_at, ended_at, score, feedback, turn_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			ended_at = EXCLUDED.ended_at,
			score = EXCLUDED.score,
			feedback = EXCLUDED.feedback,
			turn_count = EXCLUDED.turn_count,
			updated_at = EXCLUDED.updated_at
	`, sess.ID, sess.UserID, sess.Scenario, sess.State, sess.StartedAt, sess.EndedAt,
		sess.Score, sess.Feedback, sess.TurnCount, sess.CreatedAt, sess.UpdatedAt)
	return err
}

// InsertMessage stores one mirrored turn, ignoring replays of a sequence
// number that already landed
func (r *SessionMirrorRepositoryImpl) InsertMessage(ctx context.Context, turn *models.Turn) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, seq, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, seq) DO NOTHING
	`, turn.SessionID, turn.Seq, turn.Role, turn.Content, turn.CreatedAt)
	return err
}

// GetSession retrieves a mirrored session by ID
func (r *SessionMirrorRepositoryImpl) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	var sess models.Session
	err := r.db.GetContext(ctx, &sess, `
		SELECT id, user_id, scenario, state, started_at, ended_at, score, feedback, turn_count, created_at, updated_at
		FROM sessions
		WHERE id = $1
	`, sessionID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("session")
	}
	if err != nil {
		return nil, errors.StorageUnavailable("mirror session read", err)
	}
	return &sess, nil
}

// ListMessages returns a session's mirrored turns ordered by sequence number
func (r *SessionMirrorRepositoryImpl) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]models.Turn, error) {
	turns := make([]models.Turn, 0, 16)
	err := r.db.SelectContext(ctx, &turns, `
		SELECT session_id, seq, role, content, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, errors.StorageUnavailable("mirror message read", err)
	}
	return turns, nil
}

// ListRecentSessions returns the most recently started sessions
func (r *SessionMirrorRepositoryImpl) ListRecentSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	var sessions []*models.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT id, user_id, scenario, state, started_at, ended_at, score, feedback, turn_count, created_at, updated_at
		FROM sessions
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, errors.StorageUnavailable("mirror session list", err)
	}
	return sessions, nil
}

// ListUserSessions returns a user's sessions, most recent first
func (r *SessionMirrorRepositoryImpl) ListUserSessions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Session, error) {
	var sessions []*models.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT id, user_id, scenario, state, started_at, ended_at, score, feedback, turn_count, created_at, updated_at
		FROM sessions
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, errors.StorageUnavailable("mirror session list", err)
	}
	return sessions, nil
}

// ListUserScores returns the scores of a user's ended sessions in completion
// order, feeding the distribution and trend statistics
func (r *SessionMirrorRepositoryImpl) ListUserScores(ctx context.Context, userID uuid.UUID) ([]int, error) {
	var scores []int
	err := r.db.SelectContext(ctx, &scores, `
		SELECT score
		FROM sessions
		WHERE user_id = $1 AND state = $2 AND score IS NOT NULL
		ORDER BY ended_at
	`, userID, models.SessionStateEnded)
	if err != nil {
		return nil, errors.StorageUnavailable("mirror score list", err)
	}
	return scores, nil
}
