package models

import (
	"time"

	"github.com/google/uuid"
)

// UserProgress is the running aggregate over a user's completed sessions.
// SessionCount doubles as the optimistic-concurrency token: writers only
// commit an update when the stored count still matches the one they read.
type UserProgress struct {
	UserID       uuid.UUID `json:"user_id" db:"user_id"`
	SessionCount int       `json:"session_count" db:"session_count"`
	AverageScore float64   `json:"average_score" db:"average_score"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// NewUserProgress creates an empty aggregate for a user
func NewUserProgress(userID uuid.UUID) *UserProgress {
	return &UserProgress{
		UserID:    userID,
		UpdatedAt: time.Now(),
	}
}

// WithScore returns the aggregate after folding in one more session score.
// The receiver is not modified.
func (p UserProgress) WithScore(score int) UserProgress {
	total := p.AverageScore*float64(p.SessionCount) + float64(score)
	p.SessionCount++
	p.AverageScore = total / float64(p.SessionCount)
	p.UpdatedAt = time.Now()
	return p
}

// ProgressSummary extends the stored aggregate with distribution statistics
// computed over the user's individual session scores
type ProgressSummary struct {
	UserID       uuid.UUID `json:"user_id"`
	SessionCount int       `json:"session_count"`
	AverageScore float64   `json:"average_score"`
	MedianScore  float64   `json:"median_score"`
	StdDev       float64   `json:"std_dev"`
	MinScore     float64   `json:"min_score"`
	MaxScore     float64   `json:"max_score"`
	TrendSlope   float64   `json:"trend_slope"`
}
