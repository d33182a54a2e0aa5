package journal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/haven/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]*Entry // userID → entries in insertion order
}

// NewMemoryStore creates an in-memory journal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]*Entry)}
}

func (s *MemoryStore) Create(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	list := append(s.entries[e.UserID], &cp)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	s.entries[e.UserID] = list
	return nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, before *pagination.Cursor, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.entries[userID]
	var result []*Entry
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		if !before.Older(all[i].CreatedAt, all[i].ID) {
			continue
		}
		cp := *all[i]
		result = append(result, &cp)
	}
	return result, nil
}

func (s *MemoryStore) ListSince(ctx context.Context, userID string, since time.Time) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Entry
	for _, e := range s.entries[userID] {
		if !e.CreatedAt.Before(since) {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}
