package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mbd888/haven/internal/auth"
	"github.com/mbd888/haven/internal/encryption"
	"github.com/mbd888/haven/internal/idgen"
	"github.com/mbd888/haven/internal/logging"
	"github.com/mbd888/haven/internal/metrics"
	"github.com/mbd888/haven/internal/traces"
)

const noRulesReason = "No risk rules loaded"

// Engine evaluates users against a rule set.
type Engine struct {
	rules      *RuleSet
	registry   *Registry
	source     Source
	decrypter  encryption.Decrypter
	snapshots  SnapshotStore
	publishers []Publisher
	now        func() time.Time
}

// NewEngine creates an engine. A nil rule set makes every evaluation answer
// with the unknown level. A nil snapshot store disables persistence.
func NewEngine(rules *RuleSet, source Source, decrypter encryption.Decrypter, snapshots SnapshotStore) *Engine {
	return &Engine{
		rules:     rules,
		registry:  NewRegistry(),
		source:    source,
		decrypter: decrypter,
		snapshots: snapshots,
		now:       time.Now,
	}
}

// WithEvaluator overrides or adds the evaluator for id.
func (e *Engine) WithEvaluator(id string, fn Evaluator) *Engine {
	e.registry.Register(id, fn)
	return e
}

// WithPublisher adds a receiver for persisted assessments.
func (e *Engine) WithPublisher(p Publisher) *Engine {
	e.publishers = append(e.publishers, p)
	return e
}

// WithClock overrides the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Rules returns the loaded rule set, or nil.
func (e *Engine) Rules() *RuleSet {
	return e.rules
}

// Registry returns the evaluator registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Evaluate scores userID and appends a snapshot. Demo callers get the demo
// sentinel and nothing is stored.
func (e *Engine) Evaluate(ctx context.Context, userID string) *Assessment {
	if auth.IsDemo(userID) {
		return e.demoAssessment()
	}
	a := e.assess(ctx, userID)
	if e.rules != nil {
		e.persist(ctx, a)
	}
	return a
}

// Preview scores userID without storing a snapshot.
func (e *Engine) Preview(ctx context.Context, userID string) *Assessment {
	if auth.IsDemo(userID) {
		return e.demoAssessment()
	}
	return e.assess(ctx, userID)
}

func (e *Engine) assess(ctx context.Context, userID string) *Assessment {
	now := e.now().UTC()
	if e.rules == nil {
		metrics.RiskEvaluationsTotal.WithLabelValues(string(LevelUnknown)).Inc()
		return &Assessment{
			UserID:        userID,
			Level:         LevelUnknown,
			Reasons:       []string{noRulesReason},
			FeatureScores: map[string]float64{},
			Weights:       map[string]float64{},
			Timestamp:     now,
		}
	}

	ctx, span := traces.StartSpan(ctx, "risk.Evaluate", traces.FeatureCount(len(e.rules.Features)))
	defer span.End()
	start := time.Now()

	in := NewInput(userID, now, e.source, e.decrypter)
	scores := make(map[string]float64, len(e.rules.Features))
	reasons := make([]string, 0)
	for _, f := range e.rules.Features {
		r := e.runFeature(ctx, f, in)
		scores[f.Name] = r.Score
		if r.Reason != "" {
			reasons = append(reasons, r.Reason)
		}
	}

	score := aggregate(e.rules.Features, scores, e.rules.Weights)
	level := e.rules.Thresholds.LevelFor(score)

	metrics.RiskEvaluationDuration.Observe(time.Since(start).Seconds())
	metrics.RiskEvaluationsTotal.WithLabelValues(string(level)).Inc()
	span.SetAttributes(traces.RiskLevel(string(level)), traces.RiskScore(round3(score)))

	return &Assessment{
		UserID:        userID,
		Score:         round3(score),
		Level:         level,
		Reasons:       reasons,
		FeatureScores: scores,
		Weights:       copyScores(e.rules.Weights),
		Thresholds:    e.rules.Thresholds,
		Timestamp:     now,
	}
}

// runFeature evaluates one feature. Errors and panics become a zero score
// with a diagnostic reason. Unknown features do the same.
func (e *Engine) runFeature(ctx context.Context, f FeatureSpec, in *Input) (res Result) {
	fn, ok := e.registry.Lookup(f)
	if !ok {
		return Result{Reason: "Unknown feature: " + f.Name}
	}

	defer func() {
		if p := recover(); p != nil {
			res = e.featureError(ctx, f.Name, fmt.Errorf("panic: %v", p))
		}
	}()

	r, err := fn(ctx, in)
	if err != nil {
		return e.featureError(ctx, f.Name, err)
	}
	r.Score = round3(clamp(r.Score))
	return r
}

func (e *Engine) featureError(ctx context.Context, name string, err error) Result {
	metrics.RiskFeatureErrorsTotal.WithLabelValues(name).Inc()
	logging.L(ctx).Warn("risk: feature failed", "feature", name, "error", err)
	return Result{Reason: fmt.Sprintf("Error evaluating %s: %v", name, err)}
}

func (e *Engine) persist(ctx context.Context, a *Assessment) {
	if e.snapshots == nil {
		return
	}
	a.ID = idgen.New()
	if err := e.snapshots.Append(ctx, a); err != nil {
		a.ID = ""
		metrics.SnapshotWriteFailuresTotal.Inc()
		logging.L(ctx).Error("risk: failed to save snapshot", "error", err)
		return
	}
	for _, p := range e.publishers {
		e.publish(ctx, p, a)
	}
}

func (e *Engine) publish(ctx context.Context, p Publisher, a *Assessment) {
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("risk: publisher panicked", "panic", r)
		}
	}()
	p.PublishAssessment(ctx, copyAssessment(a))
}

func (e *Engine) demoAssessment() *Assessment {
	a := &Assessment{
		UserID:        auth.DemoUserID,
		Level:         LevelDemo,
		Reasons:       []string{"Demo user - no real assessment"},
		FeatureScores: map[string]float64{},
		Weights:       map[string]float64{},
		Timestamp:     e.now().UTC(),
	}
	if e.rules != nil {
		a.Weights = copyScores(e.rules.Weights)
		a.Thresholds = e.rules.Thresholds
	}
	return a
}

// aggregate is the active-weight average: only features with a positive
// score contribute, each adding score*weight to the numerator and |weight|
// to the denominator. The result is clamped to [0,1]. Features are summed
// in rule order so the result is reproducible to the last bit.
func aggregate(features []FeatureSpec, scores, weights map[string]float64) float64 {
	var riskSum, weightSum float64
	for _, f := range features {
		s := scores[f.Name]
		if s <= 0 {
			continue
		}
		w := weights[f.Name]
		riskSum += s * w
		weightSum += math.Abs(w)
	}
	if weightSum == 0 {
		return 0
	}
	return clamp(riskSum / weightSum)
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
