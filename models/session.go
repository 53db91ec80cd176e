package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// SessionState represents the lifecycle state of a practice session
type SessionState string

const (
	SessionStateUninitialized SessionState = "uninitialized"
	SessionStateActive        SessionState = "active"
	SessionStateEnded         SessionState = "ended"
)

// Role identifies which side of the conversation produced a turn
type Role string

const (
	RoleCounselor Role = "counselor"
	RoleClient    Role = "client"
)

// Turn is a single entry in a session's conversation log. Seq is assigned
// by the session itself and is contiguous from zero.
type Turn struct {
	SessionID uuid.UUID `json:"session_id" db:"session_id"`
	Seq       int       `json:"seq" db:"seq"`
	Role      Role      `json:"role" db:"role"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Session is the durable record of a counseling practice session
type Session struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	UserID    uuid.UUID      `json:"user_id" db:"user_id"`
	Scenario  string         `json:"scenario" db:"scenario"`
	State     SessionState   `json:"state" db:"state"`
	StartedAt time.Time      `json:"started_at" db:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty" db:"ended_at"`
	Score     *int           `json:"score,omitempty" db:"score"`
	Feedback  sql.NullString `json:"-" db:"feedback"`
	TurnCount int            `json:"turn_count" db:"turn_count"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// NewSession creates a session in the uninitialized state
func NewSession(id, userID uuid.UUID, scenario string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		UserID:    userID,
		Scenario:  scenario,
		State:     SessionStateUninitialized,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive reports whether the session accepts new turns
func (s *Session) IsActive() bool {
	return s.State == SessionStateActive
}

// Duration returns the elapsed time between start and end. Sessions that
// have not ended report zero.
func (s *Session) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// FeedbackText returns the recorded feedback, empty when none was stored
func (s *Session) FeedbackText() string {
	if s.Feedback.Valid {
		return s.Feedback.String
	}
	return ""
}

// Status returns a snapshot of the session for API responses
func (s *Session) Status() map[string]interface{} {
	status := map[string]interface{}{
		"id":         s.ID,
		"user_id":    s.UserID,
		"scenario":   s.Scenario,
		"state":      s.State,
		"turn_count": s.TurnCount,
		"started_at": s.StartedAt,
		"ended_at":   s.EndedAt,
	}
	if s.Score != nil {
		status["score"] = *s.Score
	}
	if s.Feedback.Valid {
		status["feedback"] = s.Feedback.String
	}
	return status
}
