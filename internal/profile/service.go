package profile

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/haven/internal/auth"
	"github.com/mbd888/haven/internal/syncutil"
	"github.com/mbd888/haven/internal/validation"
)

const (
	MinAge      = 13
	MaxAge      = 120
	MaxChildren = 20
	maxTextLen  = 32
)

// Service implements profile business logic.
type Service struct {
	store Store
	locks *syncutil.KeyLock
	now   func() time.Time
}

// NewService creates a profile service.
func NewService(store Store) *Service {
	return &Service{store: store, locks: syncutil.NewKeyLock(), now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// Get returns the caller's profile. Demo callers always see Demo(); users
// without a stored profile get an empty one.
func (s *Service) Get(ctx context.Context, userID string) (*Profile, error) {
	if auth.IsDemo(userID) {
		return Demo(), nil
	}
	p, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &Profile{UserID: userID, Version: CurrentVersion}, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Update validates u, merges it into the stored profile and saves the result.
func (s *Service) Update(ctx context.Context, userID string, u Update) (*Profile, error) {
	if auth.IsDemo(userID) {
		return nil, ErrDemoUser
	}
	if errs := ValidateUpdate(u); len(errs) > 0 {
		return nil, errs
	}

	// Updates are partial merges; concurrent ones for a user must not race.
	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.Apply(u)
	p.UserID = userID
	p.Version = CurrentVersion
	p.UpdatedAt = s.now().UTC()

	if err := s.store.Upsert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ChatContext renders the context block for userID with o applied.
func (s *Service) ChatContext(ctx context.Context, userID string, o *ContextOverrides) (string, *Profile, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	return BuildChatContext(p, o), p, nil
}

// ValidateUpdate checks enumerations and numeric ranges.
func ValidateUpdate(u Update) validation.ValidationErrors {
	return validation.Validate(
		validation.IntRange("age", u.Age, MinAge, MaxAge),
		validation.IntRange("num_children", u.NumChildren, 0, MaxChildren),
		validation.MaxLength("gender", deref(u.Gender), maxTextLen),
		validation.MaxLength("relationship_status", deref(u.RelationshipStatus), maxTextLen),
		validation.OneOf("victim_housing", deref(u.VictimHousing), HousingValues...),
		validation.OneOf("default_confidentiality", deref(u.DefaultConfidentiality), ConfidentialityLevels...),
		validation.OneOf("default_share_with", deref(u.DefaultShareWith), ShareWithTargets...),
	)
}

// ValidateOverrides checks a per-message override block.
func ValidateOverrides(o *ContextOverrides) validation.ValidationErrors {
	if o == nil {
		return nil
	}
	return validation.Validate(
		validation.OneOf("confidentiality", o.Confidentiality, ConfidentialityLevels...),
		validation.OneOf("share_with", o.ShareWith, ShareWithTargets...),
	)
}
