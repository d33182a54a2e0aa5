package risk

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of SnapshotStore for demo/test use.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]*Assessment // user id -> snapshots in append order
}

// NewMemoryStore creates an in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string][]*Assessment),
	}
}

func (s *MemoryStore) Append(ctx context.Context, a *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[a.UserID] = append(s.snapshots[a.UserID], copyAssessment(a))
	return nil
}

func (s *MemoryStore) ListSince(ctx context.Context, userID string, since time.Time) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Assessment
	for _, a := range s.snapshots[userID] {
		if !a.Timestamp.Before(since) {
			result = append(result, copyAssessment(a))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

func (s *MemoryStore) Latest(ctx context.Context, userID string, n int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Assessment, len(s.snapshots[userID]))
	copy(all, s.snapshots[userID])
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	if n > 0 && len(all) > n {
		all = all[:n]
	}

	result := make([]*Assessment, 0, len(all))
	for _, a := range all {
		result = append(result, copyAssessment(a))
	}
	return result, nil
}
