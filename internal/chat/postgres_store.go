package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbd888/haven/internal/nlp"
	"github.com/mbd888/haven/internal/pagination"
)

// PostgresStore persists chat messages and events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed chat store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the chat tables if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chat_messages (
			id          VARCHAR(36) PRIMARY KEY,
			chat_id     VARCHAR(64) NOT NULL,
			user_id     VARCHAR(128) NOT NULL,
			role        VARCHAR(16) NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ciphertext  TEXT NOT NULL,
			iv          VARCHAR(32) NOT NULL,
			tag         VARCHAR(32) NOT NULL DEFAULT '',
			analysis    JSONB
		);

		CREATE INDEX IF NOT EXISTS idx_chat_messages_user_created
			ON chat_messages (user_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_chat_messages_chat
			ON chat_messages (chat_id, created_at);

		CREATE TABLE IF NOT EXISTS chat_events (
			event_id              VARCHAR(36) PRIMARY KEY,
			chat_id               VARCHAR(64) NOT NULL,
			message_id            VARCHAR(36) NOT NULL,
			user_id               VARCHAR(128) NOT NULL,
			created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			entry_source          VARCHAR(32) NOT NULL DEFAULT 'chat',
			jurisdiction          VARCHAR(64) NOT NULL DEFAULT '',
			location_type         VARCHAR(64) NOT NULL DEFAULT '',
			children_present      BOOLEAN NOT NULL DEFAULT FALSE,
			event_type            VARCHAR(32) NOT NULL,
			type_of_abuse         VARCHAR(128) NOT NULL,
			sentiment_score       DOUBLE PRECISION NOT NULL,
			risk_points           INTEGER NOT NULL DEFAULT 0,
			severity_score        INTEGER NOT NULL DEFAULT 0,
			escalation_index      DOUBLE PRECISION NOT NULL DEFAULT 0,
			threats_to_kill       BOOLEAN NOT NULL DEFAULT FALSE,
			strangulation         BOOLEAN NOT NULL DEFAULT FALSE,
			weapon_involved       BOOLEAN NOT NULL DEFAULT FALSE,
			stalking              BOOLEAN NOT NULL DEFAULT FALSE,
			digital_surveillance  BOOLEAN NOT NULL DEFAULT FALSE,
			confidentiality_level VARCHAR(32) NOT NULL DEFAULT 'private',
			share_with            VARCHAR(32) NOT NULL DEFAULT 'nobody',
			extra                 JSONB NOT NULL DEFAULT '{}'
		);

		CREATE INDEX IF NOT EXISTS idx_chat_events_user_created
			ON chat_events (user_id, created_at);
	`)
	return err
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) CreateMessage(ctx context.Context, m *Message) error {
	return insertMessage(ctx, s.db, m)
}

func (s *PostgresStore) CreateMessageWithEvent(ctx context.Context, m *Message, e *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin chat transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertMessage(ctx, tx, m); err != nil {
		return err
	}
	if err := insertEvent(ctx, tx, e); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chat message: %w", err)
	}
	return nil
}

func insertMessage(ctx context.Context, db execer, m *Message) error {
	var analysis []byte
	if m.Analysis != nil {
		var err error
		if analysis, err = json.Marshal(m.Analysis); err != nil {
			return fmt.Errorf("failed to encode analysis: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, chat_id, user_id, role, created_at, ciphertext, iv, tag, analysis)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, m.ID, m.ChatID, m.UserID, string(m.Role), m.CreatedAt, m.Ciphertext, m.IV, m.Tag, nullJSON(analysis))
	if err != nil {
		return fmt.Errorf("failed to insert chat message: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, db execer, e *Event) error {
	extra, err := json.Marshal(e.Extra)
	if err != nil {
		return fmt.Errorf("failed to encode event extra: %w", err)
	}
	if e.Extra == nil {
		extra = []byte("{}")
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO chat_events (
			event_id, chat_id, message_id, user_id, created_at, entry_source,
			jurisdiction, location_type, children_present, event_type, type_of_abuse,
			sentiment_score, risk_points, severity_score, escalation_index,
			threats_to_kill, strangulation, weapon_involved, stalking, digital_surveillance,
			confidentiality_level, share_with, extra
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23)
	`, e.ID, e.ChatID, e.MessageID, e.UserID, e.CreatedAt, e.EntrySource,
		e.Jurisdiction, e.LocationType, e.ChildrenPresent, string(e.EventType), e.TypeOfAbuse,
		e.SentimentScore, e.RiskPoints, e.SeverityScore, e.EscalationIndex,
		e.ThreatsToKill, e.Strangulation, e.WeaponInvolved, e.Stalking, e.DigitalSurveillance,
		e.ConfidentialityLevel, e.ShareWith, extra)
	if err != nil {
		return fmt.Errorf("failed to insert chat event: %w", err)
	}
	return nil
}

const messageColumns = `id, chat_id, user_id, role, created_at, ciphertext, iv, tag, analysis`

func (s *PostgresStore) ListMessages(ctx context.Context, userID, chatID string, before *pagination.Cursor, limit int) ([]*Message, error) {
	var beforeAt sql.NullTime
	var beforeID string
	if before != nil {
		beforeAt = sql.NullTime{Time: before.CreatedAt, Valid: true}
		beforeID = before.ID
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT * FROM (
			SELECT `+messageColumns+`
			FROM chat_messages
			WHERE user_id = $1 AND ($2 = '' OR chat_id = $2)
			  AND ($3::timestamptz IS NULL OR (created_at, id) < ($3::timestamptz, $4))
			ORDER BY created_at DESC, id DESC
			LIMIT $5
		) latest
		ORDER BY created_at ASC, id ASC
	`, userID, chatID, beforeAt, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

func (s *PostgresStore) MessagesSince(ctx context.Context, userID string, since time.Time) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM chat_messages
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

func (s *PostgresStore) EventsSince(ctx context.Context, userID string, since time.Time) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, chat_id, message_id, user_id, created_at, entry_source,
			jurisdiction, location_type, children_present, event_type, type_of_abuse,
			sentiment_score, risk_points, severity_score, escalation_index,
			threats_to_kill, strangulation, weapon_involved, stalking, digital_surveillance,
			confidentiality_level, share_with, extra
		FROM chat_events
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Event
	for rows.Next() {
		var (
			e         Event
			eventType string
			extra     []byte
		)
		if err := rows.Scan(&e.ID, &e.ChatID, &e.MessageID, &e.UserID, &e.CreatedAt, &e.EntrySource,
			&e.Jurisdiction, &e.LocationType, &e.ChildrenPresent, &eventType, &e.TypeOfAbuse,
			&e.SentimentScore, &e.RiskPoints, &e.SeverityScore, &e.EscalationIndex,
			&e.ThreatsToKill, &e.Strangulation, &e.WeaponInvolved, &e.Stalking, &e.DigitalSurveillance,
			&e.ConfidentialityLevel, &e.ShareWith, &extra); err != nil {
			return nil, fmt.Errorf("failed to scan chat event: %w", err)
		}
		e.EventType = nlp.Intent(eventType)
		if len(extra) > 0 {
			if err := json.Unmarshal(extra, &e.Extra); err != nil {
				return nil, fmt.Errorf("failed to decode event extra: %w", err)
			}
			if len(e.Extra) == 0 {
				e.Extra = nil
			}
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var result []*Message
	for rows.Next() {
		var (
			m        Message
			role     string
			analysis []byte
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &role, &m.CreatedAt,
			&m.Ciphertext, &m.IV, &m.Tag, &analysis); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		m.Role = Role(role)
		if len(analysis) > 0 {
			var a nlp.Analysis
			if err := json.Unmarshal(analysis, &a); err != nil {
				return nil, fmt.Errorf("failed to decode analysis: %w", err)
			}
			m.Analysis = &a
		}
		result = append(result, &m)
	}
	return result, rows.Err()
}

func nullJSON(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return b
}
