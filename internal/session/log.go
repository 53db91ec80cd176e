package session

import (
	"time"

	"rapport/internal/errors"
	"rapport/models"

	"github.com/google/uuid"
)

// Log is an append-only conversation log. Sequence numbers are assigned at
// append time and stay contiguous from zero, so the log can be replayed or
// mirrored without gaps. Log is not safe for concurrent use: each session's
// actor is its only caller.
type Log struct {
	turns []models.Turn
}

// NewLog creates an empty conversation log
func NewLog() *Log {
	return &Log{turns: make([]models.Turn, 0, 16)}
}

// Append assigns the next sequence number and records the turn
func (l *Log) Append(sessionID uuid.UUID, role models.Role, content string) models.Turn {
	turn := models.Turn{
		SessionID: sessionID,
		Seq:       len(l.turns),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	l.turns = append(l.turns, turn)
	return turn
}

// Truncate drops every turn at sequence n and above. Used to unwind an
// append whose persist failed, so the log never acknowledges a turn the
// store does not hold.
func (l *Log) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n < len(l.turns) {
		l.turns = l.turns[:n]
	}
}

// Len returns the number of turns in the log
func (l *Log) Len() int {
	return len(l.turns)
}

// Snapshot returns a copy of the log safe to hand across goroutines
func (l *Log) Snapshot() []models.Turn {
	out := make([]models.Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Restore replaces the log's contents from stored turns. The turns must
// already be ordered by sequence number and contiguous from zero.
func (l *Log) Restore(turns []models.Turn) error {
	for i, turn := range turns {
		if turn.Seq != i {
			return errors.InternalError("conversation log is not contiguous")
		}
	}
	l.turns = make([]models.Turn, len(turns))
	copy(l.turns, turns)
	return nil
}
