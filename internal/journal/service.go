package journal

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mbd888/haven/internal/encryption"
	"github.com/mbd888/haven/internal/idgen"
	"github.com/mbd888/haven/internal/logging"
	"github.com/mbd888/haven/internal/metrics"
	"github.com/mbd888/haven/internal/pagination"
	"github.com/mbd888/haven/internal/validation"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Crypter seals and opens journal bodies.
type Crypter interface {
	encryption.Encrypter
	encryption.Decrypter
}

// Service implements journal business logic.
type Service struct {
	store   Store
	crypter Crypter
	now     func() time.Time
}

// NewService creates a journal service.
func NewService(store Store, crypter Crypter) *Service {
	return &Service{store: store, crypter: crypter, now: time.Now}
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

// Create validates, encrypts and stores one entry.
func (s *Service) Create(ctx context.Context, userID, text string) (*Plain, error) {
	text = validation.SanitizeText(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if utf8.RuneCountInString(text) > validation.MaxTextLength {
		return nil, ErrTextTooLong
	}

	sealed, err := s.crypter.Encrypt(text)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt journal: %w", err)
	}

	e := &Entry{
		ID:         idgen.New(),
		UserID:     userID,
		CreatedAt:  s.now().UTC(),
		Ciphertext: sealed.Ciphertext,
		IV:         sealed.IV,
		Tag:        sealed.Tag,
	}
	if err := s.store.Create(ctx, e); err != nil {
		return nil, err
	}
	return &Plain{ID: e.ID, CreatedAt: e.CreatedAt, Text: text}, nil
}

// List returns one page of entries, newest first, starting after cursor.
// Entries that fail to decrypt are skipped and counted; they still advance
// the cursor.
func (s *Service) List(ctx context.Context, userID, cursor string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	before, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}

	entries, err := s.store.ListByUser(ctx, userID, before, limit+1)
	if err != nil {
		return nil, err
	}
	entries, next, more := pagination.ComputePage(entries, limit, func(e *Entry) (time.Time, string) {
		return e.CreatedAt, e.ID
	})

	result := make([]Plain, 0, len(entries))
	for _, e := range entries {
		text, err := s.crypter.Decrypt(e.Ciphertext, e.IV)
		if err != nil {
			metrics.DecryptFailuresTotal.WithLabelValues("journal").Inc()
			logging.L(ctx).Warn("skipping unreadable journal", "journal_id", e.ID, "error", err)
			continue
		}
		result = append(result, Plain{ID: e.ID, CreatedAt: e.CreatedAt, Text: text})
	}
	return &Page{Journals: result, Count: len(result), NextCursor: next, HasMore: more}, nil
}
