package ports

import (
	"context"

	"rapport/models"

	"github.com/google/uuid"
)

// SessionMirrorRepository maintains the analytics copy of sessions and their
// messages. Writes must be idempotent: the mirror writer retries them and may
// replay a fact it already applied.
type SessionMirrorRepository interface {
	// UpsertSession inserts or refreshes a session row
	UpsertSession(ctx context.Context, session *models.Session) error

	// InsertMessage stores one mirrored turn, ignoring duplicates
	InsertMessage(ctx context.Context, turn *models.Turn) error

	// GetSession retrieves a mirrored session by ID, NotFound when absent
	GetSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)

	// ListMessages returns a session's mirrored turns ordered by sequence number
	ListMessages(ctx context.Context, sessionID uuid.UUID) ([]models.Turn, error)

	// ListRecentSessions returns the most recently started sessions
	ListRecentSessions(ctx context.Context, limit int) ([]*models.Session, error)

	// ListUserSessions returns a user's sessions, most recent first
	ListUserSessions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Session, error)

	// ListUserScores returns the scores of a user's ended sessions in
	// completion order
	ListUserScores(ctx context.Context, userID uuid.UUID) ([]int, error)
}
