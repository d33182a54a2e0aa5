package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore persists profiles in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the profiles table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS profiles (
			user_id                  VARCHAR(128) PRIMARY KEY,
			version                  INTEGER NOT NULL DEFAULT 1,
			age                      INTEGER,
			gender                   VARCHAR(32),
			relationship_status      VARCHAR(32),
			victim_housing           VARCHAR(32),
			has_trusted_support      BOOLEAN,
			default_confidentiality  VARCHAR(32),
			default_share_with       VARCHAR(32),
			num_children             INTEGER,
			safety_plan_last_updated TIMESTAMPTZ,
			updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*Profile, error) {
	var (
		p                                            Profile
		age, children                                sql.NullInt64
		gender, relationship, housing, conf, shareTo sql.NullString
		support                                      sql.NullBool
		safetyPlan                                   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, version, age, gender, relationship_status, victim_housing,
		       has_trusted_support, default_confidentiality, default_share_with,
		       num_children, safety_plan_last_updated, updated_at
		FROM profiles WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.Version, &age, &gender, &relationship, &housing,
		&support, &conf, &shareTo, &children, &safetyPlan, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	p.Age = nullInt(age)
	p.NumChildren = nullInt(children)
	p.Gender = nullString(gender)
	p.RelationshipStatus = nullString(relationship)
	p.VictimHousing = nullString(housing)
	p.DefaultConfidentiality = nullString(conf)
	p.DefaultShareWith = nullString(shareTo)
	if support.Valid {
		p.HasTrustedSupport = &support.Bool
	}
	if safetyPlan.Valid {
		p.SafetyPlanLastUpdated = &safetyPlan.Time
	}
	return &p, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, p *Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, version, age, gender, relationship_status, victim_housing,
			has_trusted_support, default_confidentiality, default_share_with,
			num_children, safety_plan_last_updated, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id) DO UPDATE SET
			version = EXCLUDED.version,
			age = EXCLUDED.age,
			gender = EXCLUDED.gender,
			relationship_status = EXCLUDED.relationship_status,
			victim_housing = EXCLUDED.victim_housing,
			has_trusted_support = EXCLUDED.has_trusted_support,
			default_confidentiality = EXCLUDED.default_confidentiality,
			default_share_with = EXCLUDED.default_share_with,
			num_children = EXCLUDED.num_children,
			safety_plan_last_updated = EXCLUDED.safety_plan_last_updated,
			updated_at = EXCLUDED.updated_at
	`, p.UserID, p.Version, p.Age, p.Gender, p.RelationshipStatus, p.VictimHousing,
		p.HasTrustedSupport, p.DefaultConfidentiality, p.DefaultShareWith,
		p.NumChildren, p.SafetyPlanLastUpdated, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}
