// Package journal stores encrypted journal entries.
//
// Entries are append-only. The body is sealed before it reaches a Store, so
// stores only ever see ciphertext.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/haven/internal/pagination"
)

var (
	ErrEmptyText   = errors.New("journal: text is empty")
	ErrTextTooLong = errors.New("journal: text exceeds 4000 characters")
)

// Entry is one persisted journal entry.
type Entry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	Ciphertext string    `json:"-"`
	IV         string    `json:"-"`
	Tag        string    `json:"-"`
}

// Plain is an entry with its body recovered.
type Plain struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Text      string    `json:"text"`
}

// Page is one page of a user's journal, newest first.
type Page struct {
	Journals   []Plain `json:"journals"`
	Count      int     `json:"count"`
	NextCursor string  `json:"next_cursor,omitempty"`
	HasMore    bool    `json:"has_more"`
}

// Store persists journal entries.
type Store interface {
	Create(ctx context.Context, e *Entry) error
	// ListByUser returns at most limit entries older than before, newest
	// first by (created_at, id). A nil cursor starts from the newest.
	ListByUser(ctx context.Context, userID string, before *pagination.Cursor, limit int) ([]*Entry, error)
	// ListSince returns entries created at or after since, oldest first.
	ListSince(ctx context.Context, userID string, since time.Time) ([]*Entry, error)
}
