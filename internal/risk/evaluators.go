package risk

import (
	"context"
	"math"

	"github.com/mbd888/haven/internal/nlp"
)

// Feature names of the built-in evaluators.
const (
	FeatureMoodDrop7d           = "mood_drop_7d"
	FeatureNegativeLanguage     = "negative_language"
	FeatureChatNegativeLanguage = "chat_negative_language"
	FeatureSuicidality          = "suicidality"
	FeatureSuicidalitySticky    = "suicidality_sticky"
	FeatureWeaponIndicator      = "weapon_indicator"
	FeatureStalkingIndicator    = "stalking_indicator"
	FeatureDigitalSurveillance  = "digital_surveillance_indicator"
	FeaturePositiveAffect7d     = "positive_affect_7d"
	FeatureChatPositiveAffect   = "chat_positive_affect"
	FeatureSafetyPlanningIntent = "safety_planning_intent"
	FeatureJournalNeg30d        = "journal_neg_30d"
	FeatureChatNeg30d           = "chat_neg_30d"
	FeatureWorseningVsBaseline  = "worsening_vs_baseline"
	FeatureEscalationIndex30d   = "escalation_index_30d"
	FeatureSafetyLow            = "safety_low"
	FeatureMissedCheckins       = "missed_checkins"
	FeatureGameTelemetryStress  = "game_telemetry_stress"
)

const (
	stickyWindowDays   = 14
	recentWindowDays   = 7
	longWindowDays     = 30
	baselineWindowDays = 90
)

var (
	moodNegativeWords = []string{
		"sad", "angry", "depressed", "anxious", "worried", "scared", "hurt", "pain", "hate",
		"terrible", "awful", "horrible", "miserable", "lonely", "hopeless", "worthless",
		"guilty", "ashamed", "fear", "panic", "stress", "tension", "frustrated", "annoyed",
		"irritated", "upset", "disappointed", "heartbroken", "devastated", "crushed", "defeated",
	}
	moodPositiveWords = []string{
		"happy", "joy", "excited", "good", "great", "wonderful", "peaceful", "calm", "love",
		"amazing", "fantastic", "beautiful", "blessed", "grateful", "thankful", "content",
		"satisfied", "fulfilled", "accomplished", "proud", "confident", "optimistic", "hopeful",
		"inspired", "motivated", "energetic", "vibrant", "alive", "thriving", "prosperous", "successful",
	}

	languageNegativeWords = []string{
		"hate", "kill", "die", "suicide", "end", "stop", "can't", "won't", "never", "hopeless",
		"worthless", "useless", "pointless", "meaningless", "empty", "void", "dark", "black",
		"death", "dead", "burden", "tired", "exhausted", "drained", "numb", "numbness", "pain",
		"suffering", "agony", "torment", "hell", "nightmare",
	}
	concerningPhrases = []string{
		"want to die", "end it all", "give up", "no point", "better off dead", "kill myself",
		"end my life", "take my life", "no reason to live", "life is meaningless", "i hate myself",
		"i'm worthless", "i'm useless", "i can't take it anymore", "i can't go on", "i'm done",
		"i give up", "i quit", "i surrender", "i'm broken", "i'm damaged", "i'm ruined", "i'm destroyed",
	}

	selfHarmPhrases = []string{
		"want to die", "end it all", "kill myself", "end my life", "take my life",
		"better off dead", "no reason to live", "suicide", "suicidal", "hurt myself",
		"self harm", "self-harm", "cut myself",
	}
	weaponWords     = []string{"gun", "knife", "weapon", "firearm", "pistol", "rifle", "blade"}
	stalkingPhrases = []string{
		"followed me", "following me", "waiting outside", "shows up", "showed up", "tailing", "stalk",
	}
	digitalPhrases = []string{
		"tracker", "spy", "keylogger", "icloud", "gps", "find my", "read my messages",
		"checks my phone", "location sharing",
	}
)

func builtinEvaluators() map[string]Evaluator {
	return map[string]Evaluator{
		FeatureMoodDrop7d:           moodDrop7d,
		FeatureNegativeLanguage:     negativeLanguage,
		FeatureChatNegativeLanguage: chatNegativeLanguage,
		FeatureSuicidality:          suicidality,
		FeatureSuicidalitySticky:    suicidalitySticky,
		FeatureWeaponIndicator: phraseIndicator(weaponWords, 0.6,
			"Weapon mentioned in recent entries"),
		FeatureStalkingIndicator: phraseIndicator(stalkingPhrases, 0.4,
			"Possible stalking described in recent entries"),
		FeatureDigitalSurveillance: phraseIndicator(digitalPhrases, 0.4,
			"Possible digital surveillance described in recent entries"),
		FeaturePositiveAffect7d:     positiveAffect7d,
		FeatureChatPositiveAffect:   chatPositiveAffect,
		FeatureSafetyPlanningIntent: safetyPlanningIntent,
		FeatureJournalNeg30d:        journalNeg30d,
		FeatureChatNeg30d:           chatNeg30d,
		FeatureWorseningVsBaseline:  worseningVsBaseline,
		FeatureEscalationIndex30d:   escalationIndex30d,
		FeatureSafetyLow:            placeholder,
		FeatureMissedCheckins:       placeholder,
		FeatureGameTelemetryStress:  placeholder,
	}
}

// moodDrop7d averages a word-count-normalised sentiment over the last week
// of journals. At least two entries are needed.
func moodDrop7d(ctx context.Context, in *Input) (Result, error) {
	journals, err := in.Journals(ctx, recentWindowDays)
	if err != nil {
		return Abstain, err
	}
	if len(journals) < 2 {
		return Abstain, nil
	}

	var total float64
	valid := 0
	for _, j := range journals {
		if j.Words == 0 {
			continue
		}
		pos := nlp.CountMatches(j.Lower, moodPositiveWords)
		neg := nlp.CountMatches(j.Lower, moodNegativeWords)
		total += float64(pos-neg) / float64(j.Words)
		valid++
	}
	if valid == 0 {
		return Abstain, nil
	}

	switch avg := total / float64(valid); {
	case avg < -0.05:
		return Result{0.8, "Mood appears low based on recent journal entries"}, nil
	case avg < 0:
		return Result{0.4, "Slightly negative mood in recent entries"}, nil
	}
	return Abstain, nil
}

func negativeLanguage(ctx context.Context, in *Input) (Result, error) {
	avg, ok, err := avgJournalNegativity(ctx, in, recentWindowDays)
	if err != nil || !ok {
		return Abstain, err
	}
	switch {
	case avg > 0.3:
		return Result{0.9, "Concerning language detected in recent journals"}, nil
	case avg > 0.1:
		return Result{0.6, "Some negative language in recent journals"}, nil
	}
	return Abstain, nil
}

func journalNeg30d(ctx context.Context, in *Input) (Result, error) {
	avg, ok, err := avgJournalNegativity(ctx, in, longWindowDays)
	if err != nil || !ok {
		return Abstain, err
	}
	switch {
	case avg > 0.1:
		return Result{0.6, "Persistent negative language over the past 30 days"}, nil
	case avg > 0.05:
		return Result{0.3, "Some negative language over the past 30 days"}, nil
	}
	return Abstain, nil
}

// chatNegativeLanguage blends how often recent chats tripped the emergency
// trigger with how negative they were. Events are used when present,
// otherwise the stored message analyses.
func chatNegativeLanguage(ctx context.Context, in *Input) (Result, error) {
	signals, err := chatSignals(ctx, in, recentWindowDays)
	if err != nil || len(signals) == 0 {
		return Abstain, err
	}

	var negSum float64
	flagged := 0
	for _, s := range signals {
		negSum += math.Max(0, -s.Sentiment)
		if nlp.IsHighRisk(s.Flags) {
			flagged++
		}
	}
	n := float64(len(signals))
	score := math.Min(1, float64(flagged)/n*0.9+negSum/n*0.6)
	if score <= 0 {
		return Abstain, nil
	}
	return Result{score, "Distress or high-risk indicators in recent chats"}, nil
}

func chatNeg30d(ctx context.Context, in *Input) (Result, error) {
	signals, err := chatSignals(ctx, in, longWindowDays)
	if err != nil || len(signals) == 0 {
		return Abstain, err
	}
	var negSum float64
	for _, s := range signals {
		negSum += math.Max(0, -s.Sentiment)
	}
	switch avg := negSum / float64(len(signals)); {
	case avg > 0.1:
		return Result{0.6, "Persistent distress in chats over the past 30 days"}, nil
	case avg > 0.05:
		return Result{0.3, "Some distress in chats over the past 30 days"}, nil
	}
	return Abstain, nil
}

func suicidality(ctx context.Context, in *Input) (Result, error) {
	texts, err := in.AllTexts(ctx, longWindowDays)
	if err != nil {
		return Abstain, err
	}
	n := countHits(texts, selfHarmPhrases)
	if n == 0 {
		return Abstain, nil
	}
	return Result{ramp(0.8, n), "Explicit self-harm language detected"}, nil
}

// suicidalitySticky keeps concern raised for two weeks after any self-harm
// phrase, whether or not it recurs.
func suicidalitySticky(ctx context.Context, in *Input) (Result, error) {
	texts, err := in.AllTexts(ctx, stickyWindowDays)
	if err != nil {
		return Abstain, err
	}
	if countHits(texts, selfHarmPhrases) == 0 {
		return Abstain, nil
	}
	return Result{0.9, "Elevated concern persists after a self-harm disclosure in the last 14 days"}, nil
}

func phraseIndicator(phrases []string, base float64, reason string) Evaluator {
	return func(ctx context.Context, in *Input) (Result, error) {
		texts, err := in.AllTexts(ctx, longWindowDays)
		if err != nil {
			return Abstain, err
		}
		n := countHits(texts, phrases)
		if n == 0 {
			return Abstain, nil
		}
		return Result{ramp(base, n), reason}, nil
	}
}

func positiveAffect7d(ctx context.Context, in *Input) (Result, error) {
	journals, err := in.Journals(ctx, recentWindowDays)
	if err != nil || len(journals) == 0 {
		return Abstain, err
	}
	var total float64
	valid := 0
	for _, j := range journals {
		if j.Words == 0 {
			continue
		}
		total += float64(nlp.CountMatches(j.Lower, moodPositiveWords)) / float64(j.Words)
		valid++
	}
	if valid == 0 {
		return Abstain, nil
	}
	switch avg := total / float64(valid); {
	case avg >= 0.1:
		return Result{0.6, "Positive affect in recent journals"}, nil
	case avg > 0:
		return Result{0.3, "Some positive affect in recent journals"}, nil
	}
	return Abstain, nil
}

func chatPositiveAffect(ctx context.Context, in *Input) (Result, error) {
	signals, err := chatSignals(ctx, in, recentWindowDays)
	if err != nil || len(signals) == 0 {
		return Abstain, err
	}
	var sum float64
	for _, s := range signals {
		sum += s.Sentiment
	}
	switch avg := sum / float64(len(signals)); {
	case avg >= 0.3:
		return Result{0.6, "Positive tone in recent chats"}, nil
	case avg > nlp.SentimentNeutral:
		return Result{0.3, "Mostly positive tone in recent chats"}, nil
	}
	return Abstain, nil
}

func safetyPlanningIntent(ctx context.Context, in *Input) (Result, error) {
	signals, err := chatSignals(ctx, in, longWindowDays)
	if err != nil || len(signals) == 0 {
		return Abstain, err
	}
	planning := 0
	for _, s := range signals {
		if s.EventType == nlp.IntentSafetyPlanning {
			planning++
		}
	}
	switch ratio := float64(planning) / float64(len(signals)); {
	case ratio >= 0.3:
		return Result{0.6, "Actively working on safety planning"}, nil
	case ratio > 0:
		return Result{0.3, "Has started safety planning"}, nil
	}
	return Abstain, nil
}

// worseningVsBaseline compares the last week's negative signal with the
// preceding 90-day baseline. Both periods need data.
func worseningVsBaseline(ctx context.Context, in *Input) (Result, error) {
	journals, err := in.Journals(ctx, baselineWindowDays)
	if err != nil {
		return Abstain, err
	}
	signals, err := chatSignals(ctx, in, baselineWindowDays)
	if err != nil {
		return Abstain, err
	}

	recentCutoff := in.cutoff(recentWindowDays)
	var recent, baseline []float64
	for _, j := range journals {
		v := math.Min(1, journalNegativity(j))
		if j.CreatedAt.Before(recentCutoff) {
			baseline = append(baseline, v)
		} else {
			recent = append(recent, v)
		}
	}
	for _, s := range signals {
		v := math.Max(0, -s.Sentiment)
		if s.CreatedAt.Before(recentCutoff) {
			baseline = append(baseline, v)
		} else {
			recent = append(recent, v)
		}
	}
	if len(recent) == 0 || len(baseline) == 0 {
		return Abstain, nil
	}

	switch delta := mean(recent) - mean(baseline); {
	case delta >= 0.2:
		return Result{0.8, "Negative signals are well above the 90-day baseline"}, nil
	case delta >= 0.1:
		return Result{0.5, "Negative signals are above the 90-day baseline"}, nil
	}
	return Abstain, nil
}

func escalationIndex30d(ctx context.Context, in *Input) (Result, error) {
	events, err := in.ChatEvents(ctx, longWindowDays)
	if err != nil {
		return Abstain, err
	}
	var peak float64
	for _, e := range events {
		peak = math.Max(peak, e.EscalationIndex)
	}
	if peak <= 0 {
		return Abstain, nil
	}
	return Result{math.Min(1, peak), "Escalating incident severity reported in chats"}, nil
}

// placeholder backs features whose data sources do not exist yet. It always
// abstains; override it with Engine.WithEvaluator once a signal is available.
// Earlier scoring used fixed values here: safety_low 0.3 and missed_checkins
// 0.1, both with the reason "(placeholder evaluation)". Callers that need
// those scores back can register constant evaluators for the two features.
func placeholder(context.Context, *Input) (Result, error) {
	return Abstain, nil
}

func avgJournalNegativity(ctx context.Context, in *Input, days int) (float64, bool, error) {
	journals, err := in.Journals(ctx, days)
	if err != nil || len(journals) == 0 {
		return 0, false, err
	}
	var total float64
	for _, j := range journals {
		total += journalNegativity(j)
	}
	return total / float64(len(journals)), true, nil
}

// journalNegativity is 0.1 per negative word plus 0.5 per concerning phrase.
func journalNegativity(t Text) float64 {
	return float64(nlp.CountMatches(t.Lower, languageNegativeWords))*0.1 +
		float64(nlp.CountMatches(t.Lower, concerningPhrases))*0.5
}

// chatSignals returns the chat events of the window, or the analyses of the
// user's messages when no events exist.
func chatSignals(ctx context.Context, in *Input, days int) ([]ChatSignal, error) {
	events, err := in.ChatEvents(ctx, days)
	if err != nil {
		return nil, err
	}
	if len(events) > 0 {
		return events, nil
	}

	messages, err := in.ChatMessages(ctx, days)
	if err != nil {
		return nil, err
	}
	signals := make([]ChatSignal, 0, len(messages))
	for _, m := range messages {
		a := m.Analysis
		if a == nil {
			analysed := nlp.Analyze(m.Lower)
			a = &analysed
		}
		signals = append(signals, ChatSignal{
			CreatedAt:       m.CreatedAt,
			EventType:       a.Intent,
			Sentiment:       a.Sentiment,
			Flags:           a.Flags,
			EscalationIndex: a.EscalationIndex,
		})
	}
	return signals, nil
}

func countHits(texts []Text, phrases []string) int {
	n := 0
	for _, t := range texts {
		n += nlp.CountMatches(t.Lower, phrases)
	}
	return n
}

// ramp maps a hit count n >= 1 to base + 0.1 per extra hit, capped at 1.
func ramp(base float64, n int) float64 {
	return math.Min(1, base+0.1*float64(n-1))
}

func mean(vs []float64) float64 {
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
