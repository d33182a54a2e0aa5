// Package nlp implements the keyword triage run over every chat message and
// journal entry: intent, abuse type, risk flags, and a coarse sentiment.
//
// All functions are pure and case-insensitive. The keyword sets and the
// four-bucket sentiment are deliberately simple heuristics; callers that want
// something better should go through the Analyzer interface so the risk engine
// does not need to change.
package nlp

import (
	"sort"
	"strings"
)

// Intent is the single label assigned to a message.
type Intent string

const (
	IntentLegalInfo        Intent = "seek_legal_info"
	IntentSafetyPlanning   Intent = "safety_planning"
	IntentEmotionalSupport Intent = "seek_emotional_support"
	IntentReportIncident   Intent = "report_incident"
)

// AbuseType is one abuse category mentioned in a message.
type AbuseType string

const (
	AbuseDigitalSurveillance AbuseType = "digital_surveillance"
	AbuseEmotional           AbuseType = "emotional"
	AbuseFinancial           AbuseType = "financial"
	AbusePhysical            AbuseType = "physical"
	AbuseSexual              AbuseType = "sexual"
	AbuseStalking            AbuseType = "stalking"
	AbuseUnknown             AbuseType = "unknown"
)

// Flags are the six independent DV risk indicators.
type Flags struct {
	ThreatsToKill       bool `json:"threats_to_kill"`
	Strangulation       bool `json:"strangulation"`
	WeaponInvolved      bool `json:"weapon_involved"`
	ChildrenPresent     bool `json:"children_present"`
	Stalking            bool `json:"stalking"`
	DigitalSurveillance bool `json:"digital_surveillance"`
}

// Scores are the point-based severity figures derived from Flags.
type Scores struct {
	RiskPoints      int     `json:"risk_points"`
	SeverityScore   int     `json:"severity_score"`
	EscalationIndex float64 `json:"escalation_index"`
}

// Points per flag.
const (
	PointsThreatsToKill       = 5
	PointsStrangulation       = 7
	PointsWeaponInvolved      = 5
	PointsChildrenPresent     = 2
	PointsStalking            = 3
	PointsDigitalSurveillance = 2
)

// Sentiment buckets returned by SimpleSentiment.
const (
	SentimentNegative = -0.6
	SentimentMixed    = -0.1
	SentimentNeutral  = 0.1
	SentimentPositive = 0.4
)

var (
	intentLegal     = []string{"lawyer", "restraining order", "file a case", "court"}
	intentSafety    = []string{"safety plan", "safe place", "shelter"}
	intentEmotional = []string{"help", "support", "feel", "anxious", "scared", "afraid"}

	abuseKeywords = []struct {
		label AbuseType
		words []string
	}{
		{AbusePhysical, []string{"hit", "slap", "choke", "punch", "strangle"}},
		{AbuseEmotional, []string{"insult", "gaslight", "control", "isolate"}},
		{AbuseFinancial, []string{"took my money", "paycheck", "bank", "card"}},
		{AbuseDigitalSurveillance, []string{"tracker", "spy app", "keylogger", "icloud", "gps"}},
		{AbuseStalking, []string{"followed me", "waiting outside", "shows up", "tailing"}},
		{AbuseSexual, []string{"forced", "sexual", "assault", "rape"}},
	}

	flagThreats       = []string{"kill you", "end your life", "die"}
	flagStrangulation = []string{"strangle", "choke"}
	flagWeapon        = []string{"gun", "knife", "weapon"}
	flagChildren      = []string{"our kid", "my son", "my daughter", "children", "baby"}
	flagStalking      = []string{"followed", "waiting outside", "stalk", "tailing"}
	flagDigital       = []string{"tracker", "spy", "keylogger", "icloud", "gps", "find my"}

	sentimentNegative = []string{"scared", "afraid", "anxious", "cry", "hurt", "threat", "panic", "unsafe", "fear"}
	sentimentPositive = []string{"relief", "safe now", "thank you", "helpful", "calm"}
)

// ContainsAny reports whether the lower-cased text contains any keyword.
func ContainsAny(lower string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// CountMatches returns how many distinct keywords occur in the lower-cased text.
func CountMatches(lower string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			n++
		}
	}
	return n
}

// ClassifyIntent returns the first matching intent in precedence order:
// legal info, safety planning, emotional support, otherwise report_incident.
func ClassifyIntent(text string) Intent {
	t := strings.ToLower(text)
	switch {
	case ContainsAny(t, intentLegal):
		return IntentLegalInfo
	case ContainsAny(t, intentSafety):
		return IntentSafetyPlanning
	case ContainsAny(t, intentEmotional):
		return IntentEmotionalSupport
	default:
		return IntentReportIncident
	}
}

// ClassifyAbuse returns every abuse category mentioned, sorted and
// deduplicated, or [AbuseUnknown] when nothing matches.
func ClassifyAbuse(text string) []AbuseType {
	t := strings.ToLower(text)
	var labels []AbuseType
	for _, a := range abuseKeywords {
		if ContainsAny(t, a.words) {
			labels = append(labels, a.label)
		}
	}
	if len(labels) == 0 {
		return []AbuseType{AbuseUnknown}
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}

// AbuseLabel joins abuse types into the comma-separated form stored on events.
func AbuseLabel(types []AbuseType) string {
	if len(types) == 0 {
		return string(AbuseUnknown)
	}
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

// ExtractRiskFlags evaluates each flag independently.
func ExtractRiskFlags(text string) Flags {
	t := strings.ToLower(text)
	return Flags{
		ThreatsToKill:       ContainsAny(t, flagThreats),
		Strangulation:       ContainsAny(t, flagStrangulation),
		WeaponInvolved:      ContainsAny(t, flagWeapon),
		ChildrenPresent:     ContainsAny(t, flagChildren),
		Stalking:            ContainsAny(t, flagStalking),
		DigitalSurveillance: ContainsAny(t, flagDigital),
	}
}

// SimpleSentiment maps text to one of four buckets. Negative keywords win
// over positive ones when both are present.
func SimpleSentiment(text string) float64 {
	t := strings.ToLower(text)
	neg := ContainsAny(t, sentimentNegative)
	pos := ContainsAny(t, sentimentPositive)
	switch {
	case neg && !pos:
		return SentimentNegative
	case pos && !neg:
		return SentimentPositive
	case neg:
		return SentimentMixed
	default:
		return SentimentNeutral
	}
}

// CalculateRiskScores sums the fixed per-flag points.
func CalculateRiskScores(f Flags) Scores {
	pts := 0
	if f.ThreatsToKill {
		pts += PointsThreatsToKill
	}
	if f.Strangulation {
		pts += PointsStrangulation
	}
	if f.WeaponInvolved {
		pts += PointsWeaponInvolved
	}
	if f.ChildrenPresent {
		pts += PointsChildrenPresent
	}
	if f.Stalking {
		pts += PointsStalking
	}
	if f.DigitalSurveillance {
		pts += PointsDigitalSurveillance
	}

	severity := pts * 10
	if severity > 100 {
		severity = 100
	}
	escalation := float64(pts) / 10.0
	if escalation > 1.0 {
		escalation = 1.0
	}
	return Scores{RiskPoints: pts, SeverityScore: severity, EscalationIndex: escalation}
}

// IsHighRisk is the emergency trigger: threats to kill, strangulation, or a
// weapon. It fires independently of the weighted risk score.
func IsHighRisk(f Flags) bool {
	return f.ThreatsToKill || f.Strangulation || f.WeaponInvolved
}

// EmergencyMessage is shown alongside any message that trips IsHighRisk.
func EmergencyMessage() string {
	return "High-risk indicators detected. If you're in danger, call 911 (U.S.) or local emergency services. " +
		"For confidential help (U.S.), National DV Hotline: 1-800-799-SAFE or text START to 88788."
}
