package risk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/haven/internal/encryption"
	"github.com/mbd888/haven/internal/logging"
	"github.com/mbd888/haven/internal/metrics"
	"github.com/mbd888/haven/internal/nlp"
)

// MaxWindowDays is the widest window any evaluator reads. Records are
// loaded once for this window and filtered in memory per feature.
const MaxWindowDays = 90

// Text is a decrypted journal entry or user chat message.
type Text struct {
	CreatedAt time.Time
	Lower     string
	Words     int
	Analysis  *nlp.Analysis
}

// Input is the per-evaluation view of one user's records. Loads are
// memoised so every feature shares the same reads. An Input is used by a
// single evaluation and is not safe for concurrent use.
type Input struct {
	UserID string
	Now    time.Time

	source    Source
	decrypter encryption.Decrypter

	journals    []Text
	journalsErr error
	journalsOK  bool

	messages    []Text
	messagesErr error
	messagesOK  bool

	events    []ChatSignal
	eventsErr error
	eventsOK  bool
}

// NewInput creates an Input reading from source as of now.
func NewInput(userID string, now time.Time, source Source, decrypter encryption.Decrypter) *Input {
	return &Input{UserID: userID, Now: now, source: source, decrypter: decrypter}
}

func (in *Input) cutoff(days int) time.Time {
	return in.Now.AddDate(0, 0, -days)
}

// Journals returns decrypted journals from the last days, oldest first.
// Entries that fail to decrypt are skipped.
func (in *Input) Journals(ctx context.Context, days int) ([]Text, error) {
	if !in.journalsOK {
		in.journals, in.journalsErr = in.loadTexts(ctx, "journal", in.source.JournalsSince)
		in.journalsOK = true
	}
	if in.journalsErr != nil {
		return nil, in.journalsErr
	}
	return textsSince(in.journals, in.cutoff(days)), nil
}

// ChatMessages returns decrypted user chat messages from the last days,
// oldest first.
func (in *Input) ChatMessages(ctx context.Context, days int) ([]Text, error) {
	if !in.messagesOK {
		in.messages, in.messagesErr = in.loadTexts(ctx, "chat", in.source.ChatMessagesSince)
		in.messagesOK = true
	}
	if in.messagesErr != nil {
		return nil, in.messagesErr
	}
	return textsSince(in.messages, in.cutoff(days)), nil
}

// ChatEvents returns analysed chat events from the last days, oldest first.
func (in *Input) ChatEvents(ctx context.Context, days int) ([]ChatSignal, error) {
	if !in.eventsOK {
		in.events, in.eventsErr = in.source.ChatEventsSince(ctx, in.UserID, in.cutoff(MaxWindowDays))
		if in.eventsErr != nil {
			in.eventsErr = fmt.Errorf("load chat events: %w", in.eventsErr)
		}
		in.eventsOK = true
	}
	if in.eventsErr != nil {
		return nil, in.eventsErr
	}
	cutoff := in.cutoff(days)
	var out []ChatSignal
	for _, e := range in.events {
		if !e.CreatedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

// AllTexts returns journals and user chat messages from the last days.
func (in *Input) AllTexts(ctx context.Context, days int) ([]Text, error) {
	journals, err := in.Journals(ctx, days)
	if err != nil {
		return nil, err
	}
	messages, err := in.ChatMessages(ctx, days)
	if err != nil {
		return nil, err
	}
	return append(journals, messages...), nil
}

type recordQuery func(ctx context.Context, userID string, since time.Time) ([]Record, error)

func (in *Input) loadTexts(ctx context.Context, kind string, query recordQuery) ([]Text, error) {
	records, err := query(ctx, in.UserID, in.cutoff(MaxWindowDays))
	if err != nil {
		return nil, fmt.Errorf("load %s records: %w", kind, err)
	}

	texts := make([]Text, 0, len(records))
	for _, r := range records {
		if r.Role != "" && r.Role != RoleUser {
			continue
		}
		plain, err := in.decrypter.Decrypt(r.Ciphertext, r.IV)
		if err != nil {
			metrics.DecryptFailuresTotal.WithLabelValues(kind).Inc()
			logging.L(ctx).Warn("risk: skipping unreadable record", "kind", kind, "record_id", r.ID, "error", err)
			continue
		}
		texts = append(texts, Text{
			CreatedAt: r.CreatedAt,
			Lower:     strings.ToLower(plain),
			Words:     len(strings.Fields(plain)),
			Analysis:  r.Analysis,
		})
	}
	return texts, nil
}

func textsSince(texts []Text, cutoff time.Time) []Text {
	var out []Text
	for _, t := range texts {
		if !t.CreatedAt.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
