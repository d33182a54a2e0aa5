package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists risk snapshots in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed snapshot store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the risk_snapshots table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_snapshots (
			id             VARCHAR(36) PRIMARY KEY,
			user_id        VARCHAR(128) NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			score          DOUBLE PRECISION NOT NULL CHECK (score >= 0 AND score <= 1),
			level          VARCHAR(16) NOT NULL,
			reasons        JSONB NOT NULL DEFAULT '[]',
			feature_scores JSONB NOT NULL DEFAULT '{}',
			weights        JSONB NOT NULL DEFAULT '{}',
			thresholds     JSONB NOT NULL DEFAULT '{}'
		);

		CREATE INDEX IF NOT EXISTS idx_risk_snapshots_user_created
			ON risk_snapshots (user_id, created_at DESC);
	`)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, a *Assessment) error {
	reasons, err := json.Marshal(a.Reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}
	featureScores, err := json.Marshal(a.FeatureScores)
	if err != nil {
		return fmt.Errorf("failed to marshal feature scores: %w", err)
	}
	weights, err := json.Marshal(a.Weights)
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	thresholds, err := json.Marshal(a.Thresholds)
	if err != nil {
		return fmt.Errorf("failed to marshal thresholds: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_snapshots (id, user_id, created_at, score, level, reasons, feature_scores, weights, thresholds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		a.ID,
		a.UserID,
		a.Timestamp,
		a.Score,
		string(a.Level),
		reasons,
		featureScores,
		weights,
		thresholds,
	)
	if err != nil {
		return fmt.Errorf("failed to append risk snapshot: %w", err)
	}
	return nil
}

const snapshotColumns = `id, user_id, created_at, score, level, reasons, feature_scores, weights, thresholds`

func (s *PostgresStore) ListSince(ctx context.Context, userID string, since time.Time) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM risk_snapshots
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSnapshots(rows)
}

func (s *PostgresStore) Latest(ctx context.Context, userID string, n int) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM risk_snapshots
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSnapshots(rows)
}

func scanSnapshots(rows *sql.Rows) ([]*Assessment, error) {
	var result []*Assessment
	for rows.Next() {
		var (
			a                                               Assessment
			level                                           string
			reasons, featureScores, weights, thresholdsJSON []byte
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Timestamp, &a.Score, &level,
			&reasons, &featureScores, &weights, &thresholdsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan risk snapshot: %w", err)
		}
		a.Level = Level(level)
		a.Reasons = []string{}
		a.FeatureScores = make(map[string]float64)
		a.Weights = make(map[string]float64)
		for _, f := range []struct {
			raw  []byte
			into any
		}{
			{reasons, &a.Reasons},
			{featureScores, &a.FeatureScores},
			{weights, &a.Weights},
			{thresholdsJSON, &a.Thresholds},
		} {
			if err := json.Unmarshal(f.raw, f.into); err != nil {
				return nil, fmt.Errorf("failed to decode risk snapshot %s: %w", a.ID, err)
			}
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}
