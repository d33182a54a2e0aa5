package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/haven/internal/nlp"
	"github.com/mbd888/haven/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]Message // user id -> messages in insert order
	events   map[string][]Event
}

// NewMemoryStore creates an in-memory chat store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string][]Message),
		events:   make(map[string][]Event),
	}
}

func (s *MemoryStore) CreateMessage(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[m.UserID] = append(s.messages[m.UserID], copyMessage(m))
	return nil
}

func (s *MemoryStore) CreateMessageWithEvent(ctx context.Context, m *Message, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[m.UserID] = append(s.messages[m.UserID], copyMessage(m))
	s.events[e.UserID] = append(s.events[e.UserID], copyEvent(e))
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, userID, chatID string, before *pagination.Cursor, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Message
	for i := range s.messages[userID] {
		m := copyMessage(&s.messages[userID][i])
		if chatID != "" && m.ChatID != chatID {
			continue
		}
		if !before.Older(m.CreatedAt, m.ID) {
			continue
		}
		result = append(result, &m)
	}
	sortMessages(result)
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

func (s *MemoryStore) MessagesSince(ctx context.Context, userID string, since time.Time) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Message
	for i := range s.messages[userID] {
		m := copyMessage(&s.messages[userID][i])
		if m.CreatedAt.Before(since) {
			continue
		}
		result = append(result, &m)
	}
	sortMessages(result)
	return result, nil
}

func (s *MemoryStore) EventsSince(ctx context.Context, userID string, since time.Time) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Event
	for i := range s.events[userID] {
		e := &s.events[userID][i]
		if e.CreatedAt.Before(since) {
			continue
		}
		cp := copyEvent(e)
		result = append(result, &cp)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func sortMessages(ms []*Message) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].ID < ms[j].ID
		}
		return ms[i].CreatedAt.Before(ms[j].CreatedAt)
	})
}

func copyMessage(m *Message) Message {
	cp := *m
	if m.Analysis != nil {
		a := *m.Analysis
		a.AbuseTypes = append([]nlp.AbuseType(nil), m.Analysis.AbuseTypes...)
		cp.Analysis = &a
	}
	return cp
}

func copyEvent(e *Event) Event {
	cp := *e
	if e.Extra != nil {
		cp.Extra = make(map[string]string, len(e.Extra))
		for k, v := range e.Extra {
			cp.Extra[k] = v
		}
	}
	return cp
}
