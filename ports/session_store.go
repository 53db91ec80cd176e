package ports

import (
	"context"

	"rapport/models"

	"github.com/google/uuid"
)

// SessionStore is the durable system of record for live sessions. Session
// actors persist every mutation here before acknowledging it, and rebuild
// their in-memory state from it after an eviction or restart.
type SessionStore interface {
	// CreateSession stores a newly initialized session
	CreateSession(ctx context.Context, session *models.Session) error

	// UpdateSession rewrites the mutable fields of a session row
	UpdateSession(ctx context.Context, session *models.Session) error

	// AppendTurn stores one conversation turn
	AppendTurn(ctx context.Context, turn *models.Turn) error

	// GetSession retrieves a session by ID, NotFound when absent
	GetSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)

	// ListTurns returns a session's turns ordered by sequence number
	ListTurns(ctx context.Context, sessionID uuid.UUID) ([]models.Turn, error)
}
