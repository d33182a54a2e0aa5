package risk

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/haven/internal/encryption"
	"github.com/mbd888/haven/internal/nlp"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeSource serves records from memory, filtered the way the stores do.
type fakeSource struct {
	journals []Record
	messages []Record
	events   []ChatSignal
	err      error
}

func (s *fakeSource) JournalsSince(_ context.Context, _ string, since time.Time) ([]Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	return recordsSince(s.journals, since), nil
}

func (s *fakeSource) ChatMessagesSince(_ context.Context, _ string, since time.Time) ([]Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	return recordsSince(s.messages, since), nil
}

func (s *fakeSource) ChatEventsSince(_ context.Context, _ string, since time.Time) ([]ChatSignal, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []ChatSignal
	for _, e := range s.events {
		if !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func recordsSince(records []Record, since time.Time) []Record {
	var out []Record
	for _, r := range records {
		if !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out
}

type fixture struct {
	t      *testing.T
	cipher *encryption.Cipher
	source *fakeSource
	store  *MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c, err := encryption.NewCipher("risk-test-key-123")
	require.NoError(t, err)
	return &fixture{t: t, cipher: c, source: &fakeSource{}, store: NewMemoryStore()}
}

func (f *fixture) journal(daysAgo float64, text string) {
	f.t.Helper()
	sealed, err := f.cipher.Encrypt(text)
	require.NoError(f.t, err)
	f.source.journals = append(f.source.journals, Record{
		ID:         text,
		CreatedAt:  testNow.Add(-time.Duration(daysAgo * float64(24*time.Hour))),
		Ciphertext: sealed.Ciphertext,
		IV:         sealed.IV,
	})
}

func (f *fixture) message(daysAgo float64, role, text string) {
	f.t.Helper()
	sealed, err := f.cipher.Encrypt(text)
	require.NoError(f.t, err)
	a := nlp.Analyze(text)
	f.source.messages = append(f.source.messages, Record{
		ID:         text,
		CreatedAt:  testNow.Add(-time.Duration(daysAgo * float64(24*time.Hour))),
		Ciphertext: sealed.Ciphertext,
		IV:         sealed.IV,
		Role:       role,
		Analysis:   &a,
	})
}

func (f *fixture) engine(rs *RuleSet) *Engine {
	return NewEngine(rs, f.source, f.cipher, f.store).
		WithClock(func() time.Time { return testNow })
}

func mustRules(t *testing.T, doc string) *RuleSet {
	t.Helper()
	rs, err := ParseRules([]byte(doc))
	require.NoError(t, err)
	return rs
}

func fixed(score float64, reason string) Evaluator {
	return func(context.Context, *Input) (Result, error) {
		return Result{Score: score, Reason: reason}, nil
	}
}

func TestEvaluate_SelfHarmDominates(t *testing.T) {
	f := newFixture(t)
	f.journal(0.1, "I want to end it all")

	a := f.engine(DefaultRules()).Evaluate(context.Background(), "u1")

	assert.InDelta(t, 0.803, a.Score, 0.01)
	assert.Equal(t, LevelHigh, a.Level)
	assert.Contains(t, a.Reasons, "Explicit self-harm language detected")
	assert.Equal(t, 0.8, a.FeatureScores[FeatureSuicidality])
	assert.Equal(t, 0.9, a.FeatureScores[FeatureSuicidalitySticky])
	assert.Len(t, a.FeatureScores, 18)
}

func TestEvaluate_EndToEnd(t *testing.T) {
	f := newFixture(t)
	f.journal(0.5, "I want to end it all")
	rs := mustRules(t, `
weights:
  suicidality: 0.9
  weapon_indicator: 0.5
`)

	e := f.engine(rs)
	a := e.Evaluate(context.Background(), "u1")

	assert.Equal(t, 0.8, a.Score)
	assert.Equal(t, LevelHigh, a.Level)
	assert.Equal(t, []string{"Explicit self-harm language detected"}, a.Reasons)
	assert.Equal(t, map[string]float64{"suicidality": 0.8, "weapon_indicator": 0}, a.FeatureScores)
	assert.NotEmpty(t, a.ID)

	snaps, err := f.store.Latest(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, a.ID, snaps[0].ID)
	assert.Equal(t, 0.8, snaps[0].Score)
}

func TestEvaluate_Deterministic(t *testing.T) {
	f := newFixture(t)
	f.journal(1, "I feel sad and hopeless")
	f.journal(2, "he has a gun and keeps following me")
	f.journal(20, "calm and grateful today")
	f.message(3, RoleUser, "He tried to strangle me, I'm scared")
	f.message(3, "assistant", "kill myself")
	e := f.engine(DefaultRules())

	first := e.Preview(context.Background(), "u1")
	for i := 0; i < 5; i++ {
		again := e.Preview(context.Background(), "u1")
		assert.Equal(t, first.Score, again.Score)
		assert.Equal(t, first.Level, again.Level)
		assert.Equal(t, first.Reasons, again.Reasons)
		assert.Equal(t, first.FeatureScores, again.FeatureScores)
	}
	assert.Zero(t, first.FeatureScores[FeatureSuicidality], "assistant messages are not scanned")
	assert.Greater(t, first.FeatureScores[FeatureWeaponIndicator], 0.0)
	assert.Greater(t, first.FeatureScores[FeatureStalkingIndicator], 0.0)
}

func TestEvaluate_Bounded(t *testing.T) {
	rs := mustRules(t, `
weights:
  a: 2.0
  b: -0.5
  c: 0.7
  d: 1.0
`)
	cases := []struct {
		name string
		a, b float64
		c, d float64
	}{
		{"over range", 5, 0, 3, 1},
		{"negative scores", -1, -4, -0.5, 0},
		{"protective only", 0, 1, 0, 0},
		{"nan", math.NaN(), 0.3, math.Inf(1), 0.2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			e := f.engine(rs).
				WithEvaluator("a", fixed(tc.a, "a")).
				WithEvaluator("b", fixed(tc.b, "b")).
				WithEvaluator("c", fixed(tc.c, "c")).
				WithEvaluator("d", fixed(tc.d, "d"))

			got := e.Preview(context.Background(), "u1")
			assert.GreaterOrEqual(t, got.Score, 0.0)
			assert.LessOrEqual(t, got.Score, 1.0)
			for name, s := range got.FeatureScores {
				assert.GreaterOrEqual(t, s, 0.0, name)
				assert.LessOrEqual(t, s, 1.0, name)
			}
		})
	}
}

func TestThresholds_LevelMonotone(t *testing.T) {
	th := Thresholds{Warn: DefaultWarnThreshold, High: DefaultHighThreshold}
	rank := map[Level]int{LevelLow: 0, LevelWarn: 1, LevelHigh: 2}

	prev := LevelLow
	for s := 0.0; s <= 1.0; s += 0.001 {
		lvl := th.LevelFor(s)
		assert.GreaterOrEqual(t, rank[lvl], rank[prev], "score %v", s)
		prev = lvl
	}
	assert.Equal(t, LevelLow, th.LevelFor(0.449))
	assert.Equal(t, LevelWarn, th.LevelFor(0.45))
	assert.Equal(t, LevelWarn, th.LevelFor(0.649))
	assert.Equal(t, LevelHigh, th.LevelFor(0.65))
}

func TestEvaluate_SilentFeaturesDoNotDilute(t *testing.T) {
	rs := mustRules(t, `
weights:
  loud: 0.5
  quiet1: 0.5
  quiet2: 0.9
`)
	f := newFixture(t)
	e := f.engine(rs).
		WithEvaluator("loud", fixed(0.7, "loud")).
		WithEvaluator("quiet1", fixed(0, "")).
		WithEvaluator("quiet2", fixed(0, ""))

	a := e.Preview(context.Background(), "u1")
	assert.Equal(t, 0.7, a.Score)
	assert.Equal(t, LevelHigh, a.Level)
	assert.Equal(t, []string{"loud"}, a.Reasons)
}

func TestEvaluate_NoSignal(t *testing.T) {
	f := newFixture(t)
	a := f.engine(DefaultRules()).Evaluate(context.Background(), "u1")

	assert.Equal(t, 0.0, a.Score)
	assert.Equal(t, LevelLow, a.Level)
	assert.Empty(t, a.Reasons)
	assert.NotNil(t, a.Reasons)
}

func TestEvaluate_FailingFeatureIsIsolated(t *testing.T) {
	f := newFixture(t)
	f.journal(1, "I feel sad and hopeless")
	f.journal(2, "scared and lonely tonight")
	f.journal(3, "he has a knife")

	baseline := f.engine(DefaultRules()).Preview(context.Background(), "u1")
	require.Equal(t, 0.8, baseline.FeatureScores[FeatureMoodDrop7d])

	broken := []struct {
		name string
		fn   Evaluator
		want string
	}{
		{"error", func(context.Context, *Input) (Result, error) {
			return Abstain, errors.New("boom")
		}, "Error evaluating mood_drop_7d: boom"},
		{"panic", func(context.Context, *Input) (Result, error) {
			panic("kaboom")
		}, "Error evaluating mood_drop_7d: panic: kaboom"},
	}
	for _, tc := range broken {
		t.Run(tc.name, func(t *testing.T) {
			got := f.engine(DefaultRules()).
				WithEvaluator(FeatureMoodDrop7d, tc.fn).
				Preview(context.Background(), "u1")

			assert.Equal(t, 0.0, got.FeatureScores[FeatureMoodDrop7d])
			assert.Contains(t, got.Reasons, tc.want)
			for name, s := range baseline.FeatureScores {
				if name == FeatureMoodDrop7d {
					continue
				}
				assert.Equal(t, s, got.FeatureScores[name], name)
			}
		})
	}
}

func TestEvaluate_StickySuicidality(t *testing.T) {
	tests := []struct {
		daysAgo    float64
		wantSticky float64
		wantSuic   float64
	}{
		{10, 0.9, 0.8},
		{15, 0, 0.8},
		{31, 0, 0},
	}
	for _, tt := range tests {
		f := newFixture(t)
		f.journal(tt.daysAgo, "sometimes I think I'd be better off dead")
		a := f.engine(DefaultRules()).Preview(context.Background(), "u1")
		assert.Equal(t, tt.wantSticky, a.FeatureScores[FeatureSuicidalitySticky], "day %v", tt.daysAgo)
		assert.Equal(t, tt.wantSuic, a.FeatureScores[FeatureSuicidality], "day %v", tt.daysAgo)
	}
}

func TestEvaluate_ProtectiveFeatureLowersScore(t *testing.T) {
	rs := mustRules(t, `
weights:
  suicidality: 0.9
  positive_affect_7d: -0.2
`)
	f := newFixture(t)
	f.journal(20, "I want to end it all")
	without := f.engine(rs).Preview(context.Background(), "u1")

	f.journal(1, "feeling calm and grateful and hopeful")
	with := f.engine(rs).Preview(context.Background(), "u1")

	require.Equal(t, 0.6, with.FeatureScores[FeaturePositiveAffect7d])
	assert.Equal(t, 0.8, without.Score)
	assert.Less(t, with.Score, without.Score)
	assert.InDelta(t, 0.545, with.Score, 0.001)
}

func TestEvaluate_UnknownFeature(t *testing.T) {
	rs := mustRules(t, `
weights:
  suicidality: 0.9
  tea_leaves: 0.5
`)
	f := newFixture(t)
	a := f.engine(rs).Preview(context.Background(), "u1")

	assert.Equal(t, 0.0, a.FeatureScores["tea_leaves"])
	assert.Contains(t, a.Reasons, "Unknown feature: tea_leaves")
	assert.Equal(t, []string{"tea_leaves"}, f.engine(rs).Registry().Unknown(rs))
}

func TestEvaluate_FeatureMappedToOtherEvaluator(t *testing.T) {
	rs := mustRules(t, `
weights:
  self_harm: 0.9
features:
  self_harm: suicidality
`)
	f := newFixture(t)
	f.journal(1, "i want to die")
	a := f.engine(rs).Preview(context.Background(), "u1")
	assert.Equal(t, 0.8, a.FeatureScores["self_harm"])
	assert.Equal(t, 0.8, a.Score)
}

func TestEvaluate_SkipsUnreadableRecords(t *testing.T) {
	f := newFixture(t)
	f.journal(1, "I want to end it all")
	f.source.journals = append(f.source.journals, Record{
		ID: "corrupt", CreatedAt: testNow.Add(-time.Hour), Ciphertext: "AAAA", IV: "AAAA",
	})

	a := f.engine(DefaultRules()).Preview(context.Background(), "u1")
	assert.Equal(t, 0.8, a.FeatureScores[FeatureSuicidality])
	for _, r := range a.Reasons {
		assert.NotContains(t, r, "Error evaluating")
	}
}

func TestEvaluate_MoodDropIgnoresUnreadableRecord(t *testing.T) {
	f := newFixture(t)
	f.journal(1, "I feel sad and hopeless")
	f.journal(2, "scared and lonely tonight")
	f.source.journals = append(f.source.journals, Record{
		ID: "corrupt", CreatedAt: testNow.Add(-90 * time.Minute), Ciphertext: "AAAA", IV: "AAAA",
	})

	a := f.engine(DefaultRules()).Preview(context.Background(), "u1")
	assert.Equal(t, 0.8, a.FeatureScores[FeatureMoodDrop7d])
	assert.Contains(t, a.Reasons, "Mood appears low based on recent journal entries")
}

func TestEvaluate_SourceFailure(t *testing.T) {
	f := newFixture(t)
	f.source.err = errors.New("db down")

	a := f.engine(DefaultRules()).Evaluate(context.Background(), "u1")
	assert.Equal(t, 0.0, a.Score)
	assert.Equal(t, LevelLow, a.Level)
	assert.Contains(t, a.Reasons, "Error evaluating suicidality: load journal records: db down")
}

type failingStore struct{ *MemoryStore }

func (s *failingStore) Append(context.Context, *Assessment) error {
	return errors.New("disk full")
}

func TestEvaluate_SnapshotFailureIsolated(t *testing.T) {
	f := newFixture(t)
	f.journal(1, "I want to end it all")
	pub := &recordingPublisher{}
	e := NewEngine(DefaultRules(), f.source, f.cipher, &failingStore{MemoryStore: NewMemoryStore()}).
		WithClock(func() time.Time { return testNow }).
		WithPublisher(pub)

	a := e.Evaluate(context.Background(), "u1")
	assert.Equal(t, LevelHigh, a.Level)
	assert.Empty(t, a.ID)
	assert.Empty(t, pub.got, "unsaved assessments are not published")
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []*Assessment
}

func (p *recordingPublisher) PublishAssessment(_ context.Context, a *Assessment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, a)
}

type panickingPublisher struct{}

func (panickingPublisher) PublishAssessment(context.Context, *Assessment) { panic("nope") }

func TestEvaluate_Publishers(t *testing.T) {
	f := newFixture(t)
	f.journal(1, "I want to end it all")
	pub := &recordingPublisher{}
	e := f.engine(DefaultRules()).
		WithPublisher(panickingPublisher{}).
		WithPublisher(pub)

	a := e.Evaluate(context.Background(), "u1")
	require.Len(t, pub.got, 1)
	assert.Equal(t, a.ID, pub.got[0].ID)
	assert.Equal(t, a.Score, pub.got[0].Score)

	pub.got[0].Reasons[0] = "mutated"
	assert.NotEqual(t, "mutated", a.Reasons[0])

	e.Preview(context.Background(), "u1")
	assert.Len(t, pub.got, 1, "previews are not published")
}

func TestEvaluate_Demo(t *testing.T) {
	f := newFixture(t)
	pub := &recordingPublisher{}
	e := f.engine(DefaultRules()).WithPublisher(pub)

	for _, id := range []string{"", "demo", "demo-42"} {
		a := e.Evaluate(context.Background(), id)
		assert.Equal(t, LevelDemo, a.Level)
		assert.Equal(t, 0.0, a.Score)
		assert.Equal(t, []string{"Demo user - no real assessment"}, a.Reasons)
		assert.Equal(t, 0.9, a.Weights[FeatureSuicidality])
	}
	snaps, _ := f.store.Latest(context.Background(), "demo", 10)
	assert.Empty(t, snaps)
	assert.Empty(t, pub.got)
}

func TestEvaluate_NoRules(t *testing.T) {
	f := newFixture(t)
	e := f.engine(nil)

	a := e.Evaluate(context.Background(), "u1")
	assert.Equal(t, LevelUnknown, a.Level)
	assert.Equal(t, []string{"No risk rules loaded"}, a.Reasons)

	snaps, _ := f.store.Latest(context.Background(), "u1", 10)
	assert.Empty(t, snaps)
}

func TestEvaluate_ChatSignals(t *testing.T) {
	rs := mustRules(t, `
weights:
  chat_negative_language: 0.4
  escalation_index_30d: 0.4
  safety_planning_intent: -0.2
`)
	f := newFixture(t)
	f.source.events = []ChatSignal{
		{
			CreatedAt: testNow.Add(-2 * 24 * time.Hour), EventType: nlp.IntentReportIncident,
			Sentiment: nlp.SentimentNegative, Flags: nlp.Flags{WeaponInvolved: true}, EscalationIndex: 0.6,
		},
		{
			CreatedAt: testNow.Add(-24 * time.Hour), EventType: nlp.IntentSafetyPlanning,
			Sentiment: nlp.SentimentNeutral,
		},
	}

	a := f.engine(rs).Preview(context.Background(), "u1")
	assert.Greater(t, a.FeatureScores[FeatureChatNegativeLanguage], 0.0)
	assert.Equal(t, 0.6, a.FeatureScores[FeatureEscalationIndex30d])
	assert.Equal(t, 0.6, a.FeatureScores[FeatureSafetyPlanningIntent])
	assert.Greater(t, a.Score, 0.0)
}

func TestEvaluate_ChatMessagesWithoutEvents(t *testing.T) {
	rs := mustRules(t, `
weights:
  chat_negative_language: 0.4
`)
	f := newFixture(t)
	f.message(1, RoleUser, "He tried to strangle me and I'm scared")

	a := f.engine(rs).Preview(context.Background(), "u1")
	assert.Equal(t, 1.0, a.FeatureScores[FeatureChatNegativeLanguage])
	assert.Equal(t, 1.0, a.Score)
}

func TestEvaluate_PlaceholdersAbstain(t *testing.T) {
	f := newFixture(t)
	f.journal(1, "anything at all")
	a := f.engine(DefaultRules()).Preview(context.Background(), "u1")
	for _, name := range []string{FeatureSafetyLow, FeatureMissedCheckins, FeatureGameTelemetryStress} {
		assert.Equal(t, 0.0, a.FeatureScores[name], name)
	}
}
