package risk

import (
	"context"
	"time"

	"github.com/mbd888/haven/internal/chat"
	"github.com/mbd888/haven/internal/journal"
)

// StoreSource answers record queries from the journal and chat stores.
type StoreSource struct {
	journals journal.Store
	chats    chat.Store
}

// NewStoreSource creates a Source over the given stores.
func NewStoreSource(journals journal.Store, chats chat.Store) *StoreSource {
	return &StoreSource{journals: journals, chats: chats}
}

func (s *StoreSource) JournalsSince(ctx context.Context, userID string, since time.Time) ([]Record, error) {
	entries, err := s.journals.ListSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, Record{
			ID:         e.ID,
			CreatedAt:  e.CreatedAt,
			Ciphertext: e.Ciphertext,
			IV:         e.IV,
		})
	}
	return records, nil
}

func (s *StoreSource) ChatMessagesSince(ctx context.Context, userID string, since time.Time) ([]Record, error) {
	msgs, err := s.chats.MessagesSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, Record{
			ID:         m.ID,
			CreatedAt:  m.CreatedAt,
			Ciphertext: m.Ciphertext,
			IV:         m.IV,
			Role:       string(m.Role),
			Analysis:   m.Analysis,
		})
	}
	return records, nil
}

func (s *StoreSource) ChatEventsSince(ctx context.Context, userID string, since time.Time) ([]ChatSignal, error) {
	events, err := s.chats.EventsSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	signals := make([]ChatSignal, 0, len(events))
	for _, e := range events {
		signals = append(signals, ChatSignal{
			CreatedAt:       e.CreatedAt,
			EventType:       e.EventType,
			Sentiment:       e.SentimentScore,
			Flags:           e.Flags(),
			EscalationIndex: e.EscalationIndex,
		})
	}
	return signals, nil
}
