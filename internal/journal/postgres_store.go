package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mbd888/haven/internal/pagination"
)

// PostgresStore persists journal entries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed journal store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the journals table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS journals (
			id          VARCHAR(36) PRIMARY KEY,
			user_id     VARCHAR(128) NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ciphertext  TEXT NOT NULL,
			iv          VARCHAR(32) NOT NULL,
			tag         VARCHAR(32) NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_journals_user_created
			ON journals (user_id, created_at);
	`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, e *Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO journals (id, user_id, created_at, ciphertext, iv, tag)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.UserID, e.CreatedAt, e.Ciphertext, e.IV, e.Tag)
	if err != nil {
		return fmt.Errorf("failed to insert journal: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, before *pagination.Cursor, limit int) ([]*Entry, error) {
	var beforeAt sql.NullTime
	var beforeID string
	if before != nil {
		beforeAt = sql.NullTime{Time: before.CreatedAt, Valid: true}
		beforeID = before.ID
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, created_at, ciphertext, iv, tag
		FROM journals
		WHERE user_id = $1
		  AND ($2::timestamptz IS NULL OR (created_at, id) < ($2::timestamptz, $3))
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, userID, beforeAt, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list journals: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}

func (s *PostgresStore) ListSince(ctx context.Context, userID string, since time.Time) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, created_at, ciphertext, iv, tag
		FROM journals
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list journals: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var result []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.CreatedAt, &e.Ciphertext, &e.IV, &e.Tag); err != nil {
			return nil, fmt.Errorf("failed to scan journal: %w", err)
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}
