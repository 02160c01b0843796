package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS audio_sessions (
			id TEXT PRIMARY KEY,
			host_id TEXT NOT NULL DEFAULT '',
			session_name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			client_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audio_sessions_is_active ON audio_sessions(is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_audio_sessions_created_at ON audio_sessions(created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO audio_sessions (id, host_id, session_name, created_at, is_active, client_count) VALUES ($1, $2, $3, $4, $5, $6)",
		sess.ID, sess.HostID, sess.Name, sess.CreatedAt, sess.IsActive, sess.ClientCount,
	)
	return err
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		"SELECT id, host_id, session_name, created_at, is_active, client_count FROM audio_sessions WHERE id = $1", id,
	).Scan(&sess.ID, &sess.HostID, &sess.Name, &sess.CreatedAt, &sess.IsActive, &sess.ClientCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *PostgresStore) ListActiveSessions(ctx context.Context, limit int) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, host_id, session_name, created_at, is_active, client_count FROM audio_sessions WHERE is_active = TRUE ORDER BY created_at DESC LIMIT $1",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.HostID, &sess.Name, &sess.CreatedAt, &sess.IsActive, &sess.ClientCount); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) SetSessionActive(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE audio_sessions SET is_active = $1 WHERE id = $2", active, id)
	return err
}

func (s *PostgresStore) PurgeInactiveSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM audio_sessions WHERE is_active = FALSE AND created_at < $1", before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
