package risk

import (
	"context"
	"math"
	"time"

	"github.com/mbd888/haven/internal/auth"
	"github.com/mbd888/haven/internal/logging"
)

const (
	DefaultHistoryDays = 30
	MaxHistoryDays     = 365

	// changeNoiseFloor suppresses feature movements too small to act on.
	changeNoiseFloor = 0.01
)

// History returns the user's snapshots from the last days, oldest first.
// Read failures are logged and produce an empty history.
func (e *Engine) History(ctx context.Context, userID string, days int) []HistoryPoint {
	if days <= 0 {
		days = DefaultHistoryDays
	}
	if days > MaxHistoryDays {
		days = MaxHistoryDays
	}
	if auth.IsDemo(userID) {
		return demoHistory(e.now().UTC())
	}
	if e.snapshots == nil {
		return []HistoryPoint{}
	}

	snaps, err := e.snapshots.ListSince(ctx, userID, e.now().UTC().AddDate(0, 0, -days))
	if err != nil {
		logging.L(ctx).Error("risk: failed to read history", "error", err)
		return []HistoryPoint{}
	}
	points := make([]HistoryPoint, 0, len(snaps))
	for _, s := range snaps {
		points = append(points, HistoryPoint{Timestamp: s.Timestamp, Score: s.Score, Level: s.Level})
	}
	return points
}

// Changes compares the two most recent snapshots.
func (e *Engine) Changes(ctx context.Context, userID string) ChangeSummary {
	if auth.IsDemo(userID) {
		return demoChanges()
	}
	if e.snapshots == nil {
		return ChangeSummary{}
	}

	snaps, err := e.snapshots.Latest(ctx, userID, 2)
	if err != nil {
		logging.L(ctx).Error("risk: failed to read snapshots", "error", err)
		return ChangeSummary{}
	}
	if len(snaps) < 2 {
		return ChangeSummary{}
	}
	return Compare(snaps[1], snaps[0])
}

// Compare summarises the movement from previous to current.
func Compare(previous, current *Assessment) ChangeSummary {
	sum := ChangeSummary{
		HasPrevious:     true,
		ScoreChange:     round3(current.Score - previous.Score),
		NewReasons:      difference(current.Reasons, previous.Reasons),
		ResolvedReasons: difference(previous.Reasons, current.Reasons),
		FeatureChanges:  make(map[string]FeatureChange),
	}
	if current.Level != previous.Level {
		lvl := current.Level
		sum.LevelChange = &lvl
	}
	ts := previous.Timestamp
	sum.PreviousTimestamp = &ts

	for name, now := range current.FeatureScores {
		before := previous.FeatureScores[name]
		change := now - before
		if math.Abs(change) > changeNoiseFloor {
			sum.FeatureChanges[name] = FeatureChange{Old: before, New: now, Change: round3(change)}
		}
	}
	return sum
}

// difference returns the entries of a missing from b, in a's order.
func difference(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	out := []string{}
	seen := make(map[string]bool)
	for _, s := range a {
		if !inB[s] && !seen[s] {
			out = append(out, s)
			seen[s] = true
		}
	}
	return out
}

// demoHistory is a fixed seven-day sparkline for demo callers.
func demoHistory(now time.Time) []HistoryPoint {
	points := make([]HistoryPoint, 0, 7)
	for i := 0; i < 7; i++ {
		score := 0.2 + float64(i)*0.05
		if i%2 == 0 {
			score += 0.1
		}
		points = append(points, HistoryPoint{
			Timestamp: now.AddDate(0, 0, i-6),
			Score:     round3(score),
			Level:     LevelLow,
		})
	}
	return points
}

func demoChanges() ChangeSummary {
	return ChangeSummary{
		HasPrevious:     true,
		ScoreChange:     0.05,
		NewReasons:      []string{"Demo: Slight increase in demo data"},
		ResolvedReasons: []string{},
		FeatureChanges: map[string]FeatureChange{
			FeatureMoodDrop7d: {Old: 0.2, New: 0.25, Change: 0.05},
			FeatureSafetyLow:  {Old: 0.3, New: 0.3, Change: 0},
		},
	}
}
