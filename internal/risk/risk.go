// Package risk computes an explainable composite risk score for a user from
// their journals and chats.
//
// A rule set names the features to evaluate, their signed weights and the
// level thresholds. Each feature evaluator reads a time window of the user's
// records and returns a score in [0,1] with an optional reason. Only features
// that fire take part in the weighted average, so one strong signal is not
// diluted by many silent ones. Negative weights are protective.
//
// The engine never fails an evaluation. Bad records are skipped, failing
// features score 0 with a diagnostic reason, and snapshot write errors are
// logged and counted.
package risk

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mbd888/haven/internal/nlp"
)

// Level is the categorical risk level.
type Level string

const (
	LevelLow  Level = "low"
	LevelWarn Level = "warn"
	LevelHigh Level = "high"

	// LevelDemo and LevelUnknown are sentinels for demo callers and for an
	// engine running without rules.
	LevelDemo    Level = "demo"
	LevelUnknown Level = "unknown"
)

// Default thresholds used when a rule set omits them.
const (
	DefaultWarnThreshold = 0.45
	DefaultHighThreshold = 0.65
)

// Thresholds map a score to a level.
type Thresholds struct {
	Warn float64 `json:"warn" yaml:"warn"`
	High float64 `json:"high" yaml:"high"`
}

// LevelFor returns the level for score.
func (t Thresholds) LevelFor(score float64) Level {
	switch {
	case score >= t.High:
		return LevelHigh
	case score >= t.Warn:
		return LevelWarn
	default:
		return LevelLow
	}
}

// Result is one feature's output. An empty Reason means the feature
// abstained.
type Result struct {
	Score  float64
	Reason string
}

// Abstain is the no-signal result.
var Abstain = Result{}

// Evaluator computes one feature for the user described by in.
type Evaluator func(ctx context.Context, in *Input) (Result, error)

// Assessment is the engine's output and the persisted snapshot.
type Assessment struct {
	ID            string             `json:"id,omitempty"`
	UserID        string             `json:"-"`
	Score         float64            `json:"score"`
	Level         Level              `json:"level"`
	Reasons       []string           `json:"reasons"`
	FeatureScores map[string]float64 `json:"feature_scores"`
	Weights       map[string]float64 `json:"weights"`
	Thresholds    Thresholds         `json:"thresholds"`
	Timestamp     time.Time          `json:"timestamp"`
}

// HistoryPoint is one entry of a risk trajectory.
type HistoryPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
	Level     Level     `json:"level"`
}

// FeatureChange is the movement of one feature between two snapshots.
type FeatureChange struct {
	Old    float64 `json:"old"`
	New    float64 `json:"new"`
	Change float64 `json:"change"`
}

// ChangeSummary compares the two most recent snapshots.
type ChangeSummary struct {
	HasPrevious       bool                     `json:"has_previous"`
	ScoreChange       float64                  `json:"score_change"`
	LevelChange       *Level                   `json:"level_change"`
	NewReasons        []string                 `json:"new_reasons"`
	ResolvedReasons   []string                 `json:"resolved_reasons"`
	FeatureChanges    map[string]FeatureChange `json:"feature_changes"`
	PreviousTimestamp *time.Time               `json:"previous_timestamp,omitempty"`
}

// MarshalJSON renders a summary without a previous snapshot as
// {"has_previous": false}.
func (c ChangeSummary) MarshalJSON() ([]byte, error) {
	if !c.HasPrevious {
		return []byte(`{"has_previous":false}`), nil
	}
	type alias ChangeSummary
	return json.Marshal(alias(c))
}

// SnapshotStore is the append-only assessment log.
type SnapshotStore interface {
	Append(ctx context.Context, a *Assessment) error
	// ListSince returns snapshots created at or after since, oldest first.
	ListSince(ctx context.Context, userID string, since time.Time) ([]*Assessment, error)
	// Latest returns at most n snapshots, newest first.
	Latest(ctx context.Context, userID string, n int) ([]*Assessment, error)
}

// Publisher is told about every persisted assessment. Implementations must
// not block.
type Publisher interface {
	PublishAssessment(ctx context.Context, a *Assessment)
}

// RoleUser marks chat messages written by the user. Only these are scanned.
const RoleUser = "user"

// Record is one encrypted journal entry or chat message.
type Record struct {
	ID         string
	CreatedAt  time.Time
	Ciphertext string
	IV         string
	Role       string
	Analysis   *nlp.Analysis
}

// ChatSignal is the analysed part of a chat event.
type ChatSignal struct {
	CreatedAt       time.Time
	EventType       nlp.Intent
	Sentiment       float64
	Flags           nlp.Flags
	EscalationIndex float64
}

// Source answers windowed record queries. Results are oldest first.
type Source interface {
	JournalsSince(ctx context.Context, userID string, since time.Time) ([]Record, error)
	ChatMessagesSince(ctx context.Context, userID string, since time.Time) ([]Record, error)
	ChatEventsSince(ctx context.Context, userID string, since time.Time) ([]ChatSignal, error)
}

func copyAssessment(a *Assessment) *Assessment {
	cp := *a
	cp.Reasons = make([]string, len(a.Reasons))
	copy(cp.Reasons, a.Reasons)
	cp.FeatureScores = copyScores(a.FeatureScores)
	cp.Weights = copyScores(a.Weights)
	return &cp
}

func copyScores(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
