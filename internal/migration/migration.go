package migration

import (
	"context"
	"fmt"

	"rapport/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner builds the mirror schema: session and message rows written
// through the mirror writer, user progress aggregates, and inference usage.
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createSessionsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create sessions table")
	}

	if err := r.createMessagesTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create messages table")
	}

	if err := r.createUserProgressTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create user_progress table")
	}

	if err := r.createInferenceUsageTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create inference_usage table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	return nil
}

func (r *MigrationRunner) createSessionsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			scenario VARCHAR(100) NOT NULL,
			state VARCHAR(20) NOT NULL DEFAULT 'active',
			started_at TIMESTAMP WITH TIME ZONE NOT NULL,
			ended_at TIMESTAMP WITH TIME ZONE,
			score INTEGER,
			feedback TEXT,
			turn_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	return err
}

func (r *MigrationRunner) createMessagesTable(ctx context.Context, db *sqlx.DB) error {
	// The composite key doubles as the conflict target that keeps
	// mirror replays idempotent.
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			role VARCHAR(20) NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			PRIMARY KEY (session_id, seq)
		)
	`)
	return err
}

func (r *MigrationRunner) createUserProgressTable(ctx context.Context, db *sqlx.DB) error {
	// session_count doubles as the compare-and-swap token for
	// concurrent aggregation updates.
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS user_progress (
			user_id UUID PRIMARY KEY,
			session_count INTEGER NOT NULL,
			average_score DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		)
	`)
	return err
}

func (r *MigrationRunner) createInferenceUsageTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS inference_usage (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL,
			model VARCHAR(100) NOT NULL,
			operation_type VARCHAR(50) NOT NULL,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		// Session mirror indexes
		"CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)",
		"CREATE INDEX IF NOT EXISTS idx_sessions_user_state ON sessions(user_id, state)",
		"CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at DESC)",

		// Usage indexes
		"CREATE INDEX IF NOT EXISTS idx_usage_session_id ON inference_usage(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_usage_created_at ON inference_usage(created_at DESC)",
	}

	for _, idxSQL := range indexes {
		if _, err := db.ExecContext(ctx, idxSQL); err != nil {
			// Log but don't fail on index creation errors
			fmt.Printf("Warning: failed to create index: %v\n", err)
		}
	}

	return nil
}
