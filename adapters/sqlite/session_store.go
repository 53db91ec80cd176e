package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rapport/internal/errors"
	"rapport/models"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SessionStore is the durable system of record for live sessions, backed by
// a local SQLite file. Session actors serialize all writes per session, so
// the store only needs WAL mode and a busy timeout to stay healthy under
// many concurrent sessions.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore opens (and if needed creates) the session database
func NewSessionStore(dbPath string) (*SessionStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL mode keeps readers from blocking the actors' writes
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SessionStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SessionStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		scenario TEXT NOT NULL,
		state TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		score INTEGER,
		feedback TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

	CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying database handle
func (s *SessionStore) Close() error {
	return s.db.Close()
}

// CreateSession stores a newly initialized session
func (s *SessionStore) CreateSession(ctx context.Context, sess *models.Session) error {
	query := `
	INSERT INTO sessions (id, user_id, scenario, state, started_at, ended_at, score, feedback, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		sess.ID.String(), sess.UserID.String(), sess.Scenario, string(sess.State),
		sess.StartedAt.UnixNano(), nullableNanos(sess.EndedAt), nullableScore(sess.Score),
		nullableText(sess.Feedback), sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// UpdateSession rewrites the mutable fields of a session row
func (s *SessionStore) UpdateSession(ctx context.Context, sess *models.Session) error {
	query := `
	UPDATE sessions
	SET state = ?, ended_at = ?, score = ?, feedback = ?, updated_at = ?
	WHERE id = ?`

	_, err := s.db.ExecContext(ctx, query,
		string(sess.State), nullableNanos(sess.EndedAt), nullableScore(sess.Score),
		nullableText(sess.Feedback), sess.UpdatedAt.UnixNano(), sess.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// AppendTurn stores one conversation turn
func (s *SessionStore) AppendTurn(ctx context.Context, turn *models.Turn) error {
	query := `
	INSERT INTO turns (session_id, seq, role, content, created_at)
	VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		turn.SessionID.String(), turn.Seq, string(turn.Role), turn.Content, turn.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (s *SessionStore) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	query := `
	SELECT id, user_id, scenario, state, started_at, ended_at, score, feedback, created_at, updated_at
	FROM sessions WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID.String())

	var (
		id, userID, scenario, state   string
		startedAt, createdAt, updated int64
		endedAt                       sql.NullInt64
		score                         sql.NullInt64
		feedback                      sql.NullString
	)
	err := row.Scan(&id, &userID, &scenario, &state, &startedAt, &endedAt, &score, &feedback, &createdAt, &updated)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("session")
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess := &models.Session{
		Scenario:  scenario,
		State:     models.SessionState(state),
		StartedAt: time.Unix(0, startedAt),
		Feedback:  feedback,
		CreatedAt: time.Unix(0, createdAt),
		UpdatedAt: time.Unix(0, updated),
	}
	if sess.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	if sess.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	if endedAt.Valid {
		ended := time.Unix(0, endedAt.Int64)
		sess.EndedAt = &ended
	}
	if score.Valid {
		n := int(score.Int64)
		sess.Score = &n
	}
	return sess, nil
}

// ListTurns returns a session's turns ordered by sequence number
func (s *SessionStore) ListTurns(ctx context.Context, sessionID uuid.UUID) ([]models.Turn, error) {
	query := `
	SELECT session_id, seq, role, content, created_at
	FROM turns WHERE session_id = ? ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	turns := make([]models.Turn, 0, 16)
	for rows.Next() {
		var (
			sid, role, content string
			seq                int
			createdAt          int64
		)
		if err := rows.Scan(&sid, &seq, &role, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turn := models.Turn{
			Seq:       seq,
			Role:      models.Role(role),
			Content:   content,
			CreatedAt: time.Unix(0, createdAt),
		}
		if turn.SessionID, err = uuid.Parse(sid); err != nil {
			return nil, fmt.Errorf("parse turn session id: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

func nullableNanos(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func nullableScore(score *int) interface{} {
	if score == nil {
		return nil
	}
	return *score
}

func nullableText(s sql.NullString) interface{} {
	if !s.Valid {
		return nil
	}
	return s.String
}
