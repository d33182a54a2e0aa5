package chat

import (
	"context"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/mbd888/haven/internal/encryption"
	"github.com/mbd888/haven/internal/idgen"
	"github.com/mbd888/haven/internal/logging"
	"github.com/mbd888/haven/internal/metrics"
	"github.com/mbd888/haven/internal/nlp"
	"github.com/mbd888/haven/internal/pagination"
	"github.com/mbd888/haven/internal/profile"
	"github.com/mbd888/haven/internal/validation"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Crypter seals and opens message bodies.
type Crypter interface {
	encryption.Encrypter
	encryption.Decrypter
}

// ProfileSource supplies confidentiality defaults and event extras.
type ProfileSource interface {
	Get(ctx context.Context, userID string) (*profile.Profile, error)
}

// SendRequest is one message to store.
type SendRequest struct {
	UserID          string
	ChatID          string
	Role            Role
	Text            string
	EntrySource     string
	Jurisdiction    string
	LocationType    string
	Confidentiality string
	ShareWith       string
	Extra           map[string]string
}

// SendResult is what the caller gets back after a send.
type SendResult struct {
	Message          PlainMessage `json:"message"`
	Event            *Event       `json:"event,omitempty"`
	EmergencyMessage string       `json:"emergency_message,omitempty"`
}

// Service implements chat business logic.
type Service struct {
	store    Store
	crypter  Crypter
	analyzer nlp.Analyzer
	profiles ProfileSource
	events   EventSink
	alerts   AlertSink
	now      func() time.Time
}

// NewService creates a chat service using the keyword analyzer.
func NewService(store Store, crypter Crypter) *Service {
	return &Service{
		store:    store,
		crypter:  crypter,
		analyzer: nlp.KeywordAnalyzer{},
		now:      time.Now,
	}
}

// WithAnalyzer replaces the text analyzer.
func (s *Service) WithAnalyzer(a nlp.Analyzer) *Service {
	s.analyzer = a
	return s
}

// WithProfiles sets where confidentiality defaults come from.
func (s *Service) WithProfiles(p ProfileSource) *Service {
	s.profiles = p
	return s
}

// WithEventSink sets the receiver for stored events.
func (s *Service) WithEventSink(sink EventSink) *Service {
	s.events = sink
	return s
}

// WithAlertSink sets the receiver for high-risk events.
func (s *Service) WithAlertSink(sink AlertSink) *Service {
	s.alerts = sink
	return s
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

// Analyze runs the analyzer without storing anything.
func (s *Service) Analyze(text string) (nlp.Analysis, error) {
	text, err := checkText(text)
	if err != nil {
		return nlp.Analysis{}, err
	}
	return s.analyzer.Analyze(text), nil
}

// Send stores one message. User messages are analysed and produce an event;
// assistant and system messages are stored as-is. Sinks are notified after
// both rows are written and their failures never fail the send. A storage
// failure returns a *SaveError; high-risk text still raises the alert.
func (s *Service) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	text, err := checkText(req.Text)
	if err != nil {
		return nil, err
	}
	if req.Role == "" {
		req.Role = RoleUser
	}
	if !req.Role.Valid() {
		return nil, ErrInvalidRole
	}
	if req.ChatID == "" {
		req.ChatID = DefaultChatID
	}

	now := s.now().UTC()
	msg := &Message{
		ID:        idgen.New(),
		ChatID:    req.ChatID,
		UserID:    req.UserID,
		Role:      req.Role,
		CreatedAt: now,
	}

	var analysis *nlp.Analysis
	if req.Role == RoleUser {
		a := s.analyzer.Analyze(text)
		analysis = &a
		msg.Analysis = analysis
	}

	sealed, err := s.crypter.Encrypt(text)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt message: %w", err)
	}
	msg.Ciphertext, msg.IV, msg.Tag = sealed.Ciphertext, sealed.IV, sealed.Tag

	result := &SendResult{Message: PlainMessage{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		Role:      msg.Role,
		CreatedAt: msg.CreatedAt,
		Text:      text,
		Analysis:  analysis,
	}}
	if analysis == nil {
		if err := s.store.CreateMessage(ctx, msg); err != nil {
			metrics.ChatWriteFailuresTotal.WithLabelValues("false").Inc()
			return nil, &SaveError{Err: err}
		}
		return result, nil
	}

	// The message and its event are written together; a failure leaves neither.
	event := s.buildEvent(ctx, req, msg, *analysis)
	if err := s.store.CreateMessageWithEvent(ctx, msg, event); err != nil {
		metrics.ChatWriteFailuresTotal.WithLabelValues(strconv.FormatBool(analysis.HighRisk)).Inc()
		serr := &SaveError{Err: err}
		if analysis.HighRisk {
			serr.EmergencyMessage = s.raiseAlarm(ctx, event)
		}
		return nil, serr
	}
	result.Event = event

	s.notify(ctx, "event_sink", func() {
		if s.events != nil {
			s.events.ChatEvent(ctx, event)
		}
	})
	if analysis.HighRisk {
		result.EmergencyMessage = s.raiseAlarm(ctx, event)
	}
	return result, nil
}

// raiseAlarm tells the alert sink about a high-risk event and returns the
// emergency text for the sender.
func (s *Service) raiseAlarm(ctx context.Context, event *Event) string {
	metrics.HighRiskMessagesTotal.Inc()
	s.notify(ctx, "alert_sink", func() {
		if s.alerts != nil {
			s.alerts.HighRiskMessage(ctx, event)
		}
	})
	return nlp.EmergencyMessage()
}

// List returns the latest messages of a chat before cursor, oldest first.
// Messages that fail to decrypt are skipped and counted.
func (s *Service) List(ctx context.Context, userID, chatID, cursor string, limit int) (*MessagePage, error) {
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

	msgs, err := s.store.ListMessages(ctx, userID, chatID, before, limit+1)
	if err != nil {
		return nil, err
	}
	page := &MessagePage{}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
		page.HasMore = true
		page.NextCursor = pagination.Encode(msgs[0].CreatedAt, msgs[0].ID)
	}

	result := make([]PlainMessage, 0, len(msgs))
	for _, m := range msgs {
		text, err := s.crypter.Decrypt(m.Ciphertext, m.IV)
		if err != nil {
			metrics.DecryptFailuresTotal.WithLabelValues("chat").Inc()
			logging.L(ctx).Warn("skipping unreadable chat message", "message_id", m.ID, "error", err)
			continue
		}
		result = append(result, PlainMessage{
			ID:        m.ID,
			ChatID:    m.ChatID,
			Role:      m.Role,
			CreatedAt: m.CreatedAt,
			Text:      text,
			Analysis:  m.Analysis,
		})
	}
	page.Messages = result
	page.Count = len(result)
	return page, nil
}

// RecentEvents returns the user's events since the given time, oldest first.
func (s *Service) RecentEvents(ctx context.Context, userID string, since time.Time) ([]*Event, error) {
	return s.store.EventsSince(ctx, userID, since)
}

func (s *Service) buildEvent(ctx context.Context, req SendRequest, msg *Message, a nlp.Analysis) *Event {
	e := &Event{
		ID:                   idgen.New(),
		ChatID:               msg.ChatID,
		MessageID:            msg.ID,
		UserID:               msg.UserID,
		CreatedAt:            msg.CreatedAt,
		EntrySource:          firstNonEmpty(req.EntrySource, DefaultEntrySource),
		Jurisdiction:         req.Jurisdiction,
		LocationType:         req.LocationType,
		ConfidentialityLevel: req.Confidentiality,
		ShareWith:            req.ShareWith,
		Extra:                filterExtra(req.Extra),
	}
	e.applyAnalysis(a)

	p := s.loadProfile(ctx, req.UserID)
	if p != nil {
		if e.ConfidentialityLevel == "" && p.DefaultConfidentiality != nil {
			e.ConfidentialityLevel = *p.DefaultConfidentiality
		}
		if e.ShareWith == "" && p.DefaultShareWith != nil {
			e.ShareWith = *p.DefaultShareWith
		}
		if p.VictimHousing != nil {
			e.setExtraDefault("victim_housing", *p.VictimHousing)
		}
		if p.SafetyPlanLastUpdated != nil {
			e.setExtraDefault("safety_plan_last_updated", p.SafetyPlanLastUpdated.UTC().Format(time.RFC3339))
		}
	}
	e.ConfidentialityLevel = firstNonEmpty(e.ConfidentialityLevel, DefaultConfLevel)
	e.ShareWith = firstNonEmpty(e.ShareWith, DefaultShareWith)
	return e
}

func (s *Service) loadProfile(ctx context.Context, userID string) *profile.Profile {
	if s.profiles == nil {
		return nil
	}
	p, err := s.profiles.Get(ctx, userID)
	if err != nil {
		logging.L(ctx).Warn("chat: profile unavailable, using defaults", "error", err)
		return nil
	}
	return p
}

func (e *Event) setExtraDefault(key, value string) {
	if value == "" {
		return
	}
	if e.Extra == nil {
		e.Extra = make(map[string]string)
	}
	if _, ok := e.Extra[key]; !ok {
		e.Extra[key] = value
	}
}

// notify runs a sink call, containing any panic it raises.
func (s *Service) notify(ctx context.Context, sink string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("chat: sink panicked", "sink", sink, "panic", r)
		}
	}()
	fn()
}

func checkText(text string) (string, error) {
	text = validation.SanitizeText(text)
	if text == "" {
		return "", ErrEmptyText
	}
	if utf8.RuneCountInString(text) > validation.MaxTextLength {
		return "", ErrTextTooLong
	}
	return text, nil
}

func filterExtra(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string)
	for _, k := range ExtraKeys {
		if v, ok := in[k]; ok && v != "" {
			out[k] = validation.SanitizeString(v, 256)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
