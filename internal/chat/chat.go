// Package chat stores encrypted chat messages and the analysed incident
// event derived from each user message.
//
// A message and its event are written together. The event never holds the
// message text; it carries only the keyword triage output, so it can leave
// the service (CRM, advocate alerts) without exposing what was said.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/haven/internal/nlp"
	"github.com/mbd888/haven/internal/pagination"
)

var (
	ErrEmptyText   = errors.New("chat: text is empty")
	ErrTextTooLong = errors.New("chat: text exceeds 4000 characters")
	ErrInvalidRole = errors.New("chat: invalid role")
)

// Role is who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

const (
	DefaultChatID      = "default"
	DefaultEntrySource = "web"
	DefaultShareWith   = "nobody"
	DefaultConfLevel   = "private"
)

// ExtraKeys are the free-form event attributes accepted from clients and
// forwarded to the CRM.
var ExtraKeys = []string{
	"substance_use",
	"victim_housing",
	"support",
	"financial_control",
	"reporting_history",
	"frequency_of_abuse",
	"recent_escalation",
	"safety_plan_state",
	"safety_plan_last_updated",
}

// Message is one persisted chat message.
type Message struct {
	ID         string        `json:"id"`
	ChatID     string        `json:"chat_id"`
	UserID     string        `json:"-"`
	Role       Role          `json:"role"`
	CreatedAt  time.Time     `json:"created_at"`
	Ciphertext string        `json:"-"`
	IV         string        `json:"-"`
	Tag        string        `json:"-"`
	Analysis   *nlp.Analysis `json:"analysis,omitempty"`
}

// PlainMessage is a message with its text recovered.
type PlainMessage struct {
	ID        string        `json:"id"`
	ChatID    string        `json:"chat_id"`
	Role      Role          `json:"role"`
	CreatedAt time.Time     `json:"created_at"`
	Text      string        `json:"text"`
	Analysis  *nlp.Analysis `json:"analysis,omitempty"`
}

// MessagePage is a window of a chat, oldest first. NextCursor loads the
// messages before the first one shown.
type MessagePage struct {
	Messages   []PlainMessage `json:"messages"`
	Count      int            `json:"count"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}

// Event is the analysed incident row written for every user message.
type Event struct {
	ID                   string            `json:"event_id"`
	ChatID               string            `json:"chat_id"`
	MessageID            string            `json:"message_id"`
	UserID               string            `json:"-"`
	CreatedAt            time.Time         `json:"created_at"`
	EntrySource          string            `json:"entry_source"`
	Jurisdiction         string            `json:"jurisdiction,omitempty"`
	LocationType         string            `json:"location_type,omitempty"`
	EventType            nlp.Intent        `json:"event_type"`
	TypeOfAbuse          string            `json:"type_of_abuse"`
	SentimentScore       float64           `json:"sentiment_score"`
	RiskPoints           int               `json:"risk_points"`
	SeverityScore        int               `json:"severity_score"`
	EscalationIndex      float64           `json:"escalation_index"`
	ChildrenPresent      bool              `json:"children_present"`
	ThreatsToKill        bool              `json:"threats_to_kill"`
	Strangulation        bool              `json:"strangulation"`
	WeaponInvolved       bool              `json:"weapon_involved"`
	Stalking             bool              `json:"stalking"`
	DigitalSurveillance  bool              `json:"digital_surveillance"`
	ConfidentialityLevel string            `json:"confidentiality_level"`
	ShareWith            string            `json:"share_with"`
	Extra                map[string]string `json:"extra,omitempty"`
}

// Flags returns the six risk indicators recorded on the event.
func (e *Event) Flags() nlp.Flags {
	return nlp.Flags{
		ThreatsToKill:       e.ThreatsToKill,
		Strangulation:       e.Strangulation,
		WeaponInvolved:      e.WeaponInvolved,
		ChildrenPresent:     e.ChildrenPresent,
		Stalking:            e.Stalking,
		DigitalSurveillance: e.DigitalSurveillance,
	}
}

// HighRisk reports whether the event tripped the emergency trigger.
func (e *Event) HighRisk() bool {
	return nlp.IsHighRisk(e.Flags())
}

func (e *Event) applyAnalysis(a nlp.Analysis) {
	e.EventType = a.Intent
	e.TypeOfAbuse = a.AbuseLabel()
	e.SentimentScore = a.Sentiment
	e.RiskPoints = a.RiskPoints
	e.SeverityScore = a.SeverityScore
	e.EscalationIndex = a.EscalationIndex
	e.ChildrenPresent = a.Flags.ChildrenPresent
	e.ThreatsToKill = a.Flags.ThreatsToKill
	e.Strangulation = a.Flags.Strangulation
	e.WeaponInvolved = a.Flags.WeaponInvolved
	e.Stalking = a.Flags.Stalking
	e.DigitalSurveillance = a.Flags.DigitalSurveillance
}

// SaveError reports a send whose rows were not stored. When the text tripped
// the emergency trigger EmergencyMessage is still set and advocates have
// already been alerted, so the warning survives a storage outage.
type SaveError struct {
	Err              error
	EmergencyMessage string
}

func (e *SaveError) Error() string { return "chat: message not saved: " + e.Err.Error() }

func (e *SaveError) Unwrap() error { return e.Err }

// Store persists chat messages and events.
type Store interface {
	CreateMessage(ctx context.Context, m *Message) error
	// CreateMessageWithEvent stores a user message and its event together;
	// either both rows exist afterwards or neither does.
	CreateMessageWithEvent(ctx context.Context, m *Message, e *Event) error
	// ListMessages returns the latest limit messages of a chat that are
	// older than before, oldest first. An empty chatID lists across all of
	// the user's chats; a nil cursor starts from the newest message.
	ListMessages(ctx context.Context, userID, chatID string, before *pagination.Cursor, limit int) ([]*Message, error)
	// MessagesSince returns messages created at or after since, oldest first.
	MessagesSince(ctx context.Context, userID string, since time.Time) ([]*Message, error)
	// EventsSince returns events created at or after since, oldest first.
	EventsSince(ctx context.Context, userID string, since time.Time) ([]*Event, error)
}

// EventSink receives every stored event. Implementations must not block.
type EventSink interface {
	ChatEvent(ctx context.Context, e *Event)
}

// AlertSink is told about events that tripped the emergency trigger.
type AlertSink interface {
	HighRiskMessage(ctx context.Context, e *Event)
}
