package risk

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(user string, at time.Time, score float64, level Level, reasons []string, features map[string]float64) *Assessment {
	return &Assessment{
		ID: at.Format(time.RFC3339), UserID: user, Score: score, Level: level,
		Reasons: reasons, FeatureScores: features, Timestamp: at,
	}
}

func TestCompare(t *testing.T) {
	prevAt := testNow.Add(-24 * time.Hour)
	prev := snapshot("u1", prevAt, 0.3, LevelLow,
		[]string{"Mood appears low based on recent journal entries", "Positive affect in recent journals"},
		map[string]float64{FeatureMoodDrop7d: 0.8, FeaturePositiveAffect7d: 0.6, FeatureWeaponIndicator: 0, FeatureSafetyLow: 0.3})
	cur := snapshot("u1", testNow, 0.7, LevelHigh,
		[]string{"Mood appears low based on recent journal entries", "Weapon mentioned in recent entries"},
		map[string]float64{FeatureMoodDrop7d: 0.8, FeaturePositiveAffect7d: 0, FeatureWeaponIndicator: 0.6, FeatureSafetyLow: 0.305})

	got := Compare(prev, cur)

	high := LevelHigh
	want := ChangeSummary{
		HasPrevious:       true,
		ScoreChange:       0.4,
		LevelChange:       &high,
		NewReasons:        []string{"Weapon mentioned in recent entries"},
		ResolvedReasons:   []string{"Positive affect in recent journals"},
		PreviousTimestamp: &prevAt,
		FeatureChanges: map[string]FeatureChange{
			FeaturePositiveAffect7d: {Old: 0.6, New: 0, Change: -0.6},
			FeatureWeaponIndicator:  {Old: 0, New: 0.6, Change: 0.6},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Compare() mismatch (-want +got):\n%s", diff)
	}
}

func TestCompare_SameLevel(t *testing.T) {
	a := snapshot("u1", testNow.Add(-time.Hour), 0.5, LevelWarn, []string{"x"}, nil)
	b := snapshot("u1", testNow, 0.5, LevelWarn, []string{"x"}, nil)
	got := Compare(a, b)
	assert.Nil(t, got.LevelChange)
	assert.Equal(t, []string{}, got.NewReasons)
	assert.Equal(t, []string{}, got.ResolvedReasons)
	assert.Empty(t, got.FeatureChanges)
}

func TestChanges(t *testing.T) {
	f := newFixture(t)
	e := f.engine(DefaultRules())
	ctx := context.Background()

	assert.False(t, e.Changes(ctx, "u1").HasPrevious)

	f.journal(1, "he has a knife")
	e.Evaluate(ctx, "u1")
	assert.False(t, e.Changes(ctx, "u1").HasPrevious)

	f.journal(0.5, "I want to end it all")
	e.WithClock(func() time.Time { return testNow.Add(time.Minute) })
	e.Evaluate(ctx, "u1")

	sum := e.Changes(ctx, "u1")
	require.True(t, sum.HasPrevious)
	assert.Greater(t, sum.ScoreChange, 0.0)
	assert.Contains(t, sum.NewReasons, "Explicit self-harm language detected")
	assert.Equal(t, 0.8, sum.FeatureChanges[FeatureSuicidality].New)
	require.NotNil(t, sum.PreviousTimestamp)
	assert.True(t, sum.PreviousTimestamp.Equal(testNow))
}

func TestChangeSummary_JSON(t *testing.T) {
	b, err := json.Marshal(ChangeSummary{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"has_previous":false}`, string(b))

	b, err = json.Marshal(demoChanges())
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, true, m["has_previous"])
	assert.Contains(t, m, "feature_changes")
	assert.Nil(t, m["level_change"])
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	e := f.engine(DefaultRules())
	ctx := context.Background()

	for _, d := range []int{40, 20, 5, 1} {
		require.NoError(t, f.store.Append(ctx, snapshot("u1", testNow.AddDate(0, 0, -d), float64(d)/100, LevelLow, nil, nil)))
	}
	require.NoError(t, f.store.Append(ctx, snapshot("u2", testNow, 0.9, LevelHigh, nil, nil)))

	got := e.History(ctx, "u1", 0)
	require.Len(t, got, 3)
	assert.Equal(t, 0.2, got[0].Score)
	assert.Equal(t, 0.01, got[2].Score)

	assert.Len(t, e.History(ctx, "u1", 7), 2)
	assert.Len(t, e.History(ctx, "u1", 10000), 4)
}

type brokenStore struct{ *MemoryStore }

func (s *brokenStore) ListSince(context.Context, string, time.Time) ([]*Assessment, error) {
	return nil, errors.New("read failed")
}

func (s *brokenStore) Latest(context.Context, string, int) ([]*Assessment, error) {
	return nil, errors.New("read failed")
}

func TestHistory_ReadFailure(t *testing.T) {
	f := newFixture(t)
	e := NewEngine(DefaultRules(), f.source, f.cipher, &brokenStore{MemoryStore: NewMemoryStore()})

	got := e.History(context.Background(), "u1", 30)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.False(t, e.Changes(context.Background(), "u1").HasPrevious)
}

func TestHistory_Demo(t *testing.T) {
	f := newFixture(t)
	e := f.engine(DefaultRules())

	got := e.History(context.Background(), "demo", 30)
	require.Len(t, got, 7)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Timestamp.Before(got[i].Timestamp))
	}
	assert.True(t, e.Changes(context.Background(), "demo").HasPrevious)
}

func TestMemoryStore_Ordering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, d := range []int{3, 1, 2} {
		require.NoError(t, store.Append(ctx, snapshot("u1", testNow.AddDate(0, 0, -d), 0.1, LevelLow, []string{"r"}, nil)))
	}

	latest, err := store.Latest(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.True(t, latest[0].Timestamp.After(latest[1].Timestamp))

	latest[0].Reasons[0] = "mutated"
	again, _ := store.Latest(ctx, "u1", 1)
	assert.Equal(t, "r", again[0].Reasons[0])

	since, err := store.ListSince(ctx, "u1", testNow.AddDate(0, 0, -2))
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.True(t, since[0].Timestamp.Before(since[1].Timestamp))
}
