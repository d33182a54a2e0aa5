// Package profile stores the optional survivor profile and renders the
// context block the chat assistant is primed with.
//
// Every field is optional. A nil field means "not provided", which is
// different from a zero value: zero children and an unknown number of
// children render differently.
package profile

import (
	"context"
	"errors"
	"time"
)

// CurrentVersion is the profile schema version written by this build.
const CurrentVersion = 1

var (
	ErrNotFound = errors.New("profile: not found")
	ErrDemoUser = errors.New("profile: demo profile is read-only")
)

// Confidentiality levels and share-with targets accepted on the wire.
var (
	ConfidentialityLevels = []string{"private", "advocate_only", "shared"}
	ShareWithTargets      = []string{"nobody", "advocate", "counselor", "legal", "trusted_contact"}
	HousingValues         = []string{"safe", "unsafe", "shelter", "with_abuser", "unstable", "unknown"}
)

// Profile is one user's optional context.
type Profile struct {
	UserID                 string     `json:"-"`
	Version                int        `json:"version"`
	Age                    *int       `json:"age"`
	Gender                 *string    `json:"gender"`
	RelationshipStatus     *string    `json:"relationship_status"`
	VictimHousing          *string    `json:"victim_housing"`
	HasTrustedSupport      *bool      `json:"has_trusted_support"`
	DefaultConfidentiality *string    `json:"default_confidentiality"`
	DefaultShareWith       *string    `json:"default_share_with"`
	NumChildren            *int       `json:"num_children"`
	SafetyPlanLastUpdated  *time.Time `json:"safety_plan_last_updated"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// Update carries the fields a PUT may change. Nil fields are left alone.
type Update struct {
	Age                    *int       `json:"age"`
	Gender                 *string    `json:"gender"`
	RelationshipStatus     *string    `json:"relationship_status"`
	VictimHousing          *string    `json:"victim_housing"`
	HasTrustedSupport      *bool      `json:"has_trusted_support"`
	DefaultConfidentiality *string    `json:"default_confidentiality"`
	DefaultShareWith       *string    `json:"default_share_with"`
	NumChildren            *int       `json:"num_children"`
	SafetyPlanLastUpdated  *time.Time `json:"safety_plan_last_updated"`
}

// Apply merges u into p.
func (p *Profile) Apply(u Update) {
	if u.Age != nil {
		p.Age = u.Age
	}
	if u.Gender != nil {
		p.Gender = u.Gender
	}
	if u.RelationshipStatus != nil {
		p.RelationshipStatus = u.RelationshipStatus
	}
	if u.VictimHousing != nil {
		p.VictimHousing = u.VictimHousing
	}
	if u.HasTrustedSupport != nil {
		p.HasTrustedSupport = u.HasTrustedSupport
	}
	if u.DefaultConfidentiality != nil {
		p.DefaultConfidentiality = u.DefaultConfidentiality
	}
	if u.DefaultShareWith != nil {
		p.DefaultShareWith = u.DefaultShareWith
	}
	if u.NumChildren != nil {
		p.NumChildren = u.NumChildren
	}
	if u.SafetyPlanLastUpdated != nil {
		p.SafetyPlanLastUpdated = u.SafetyPlanLastUpdated
	}
}

// Store persists profiles.
type Store interface {
	Get(ctx context.Context, userID string) (*Profile, error)
	Upsert(ctx context.Context, p *Profile) error
}

// Demo returns the fixed profile shown to demo callers.
func Demo() *Profile {
	return &Profile{
		Version:                CurrentVersion,
		Age:                    ptr(25),
		Gender:                 ptr("prefer not to say"),
		RelationshipStatus:     ptr("single"),
		VictimHousing:          ptr("safe"),
		HasTrustedSupport:      ptr(true),
		DefaultConfidentiality: ptr("private"),
		DefaultShareWith:       ptr(""),
		NumChildren:            ptr(0),
	}
}

func ptr[T any](v T) *T { return &v }
