package nlp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		text string
		want Intent
	}{
		{"I need a lawyer, I feel scared", IntentLegalInfo},
		{"How do I get a Restraining Order?", IntentLegalInfo},
		{"Can we make a safety plan? I'm afraid", IntentSafetyPlanning},
		{"Is there a shelter near me", IntentSafetyPlanning},
		{"I feel so anxious today", IntentEmotionalSupport},
		{"I need help", IntentEmotionalSupport},
		{"He broke the door last night", IntentReportIncident},
		{"", IntentReportIncident},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyIntent(tt.text))
		})
	}
}

func TestClassifyAbuse(t *testing.T) {
	assert.Equal(t, []AbuseType{AbuseUnknown}, ClassifyAbuse("we argued about dinner"))
	assert.Equal(t, []AbuseType{AbusePhysical}, ClassifyAbuse("He tried to CHOKE me"))

	got := ClassifyAbuse("He took my money and put a tracker on my car, then he hit me")
	assert.Equal(t, []AbuseType{AbuseDigitalSurveillance, AbuseFinancial, AbusePhysical}, got)
}

func TestAbuseLabel(t *testing.T) {
	assert.Equal(t, "unknown", AbuseLabel(nil))
	assert.Equal(t, "financial,physical", AbuseLabel([]AbuseType{AbuseFinancial, AbusePhysical}))
}

func TestExtractRiskFlags(t *testing.T) {
	f := ExtractRiskFlags("He said he would kill you, he has a gun and my son saw it")
	assert.True(t, f.ThreatsToKill)
	assert.True(t, f.WeaponInvolved)
	assert.True(t, f.ChildrenPresent)
	assert.False(t, f.Strangulation)
	assert.False(t, f.Stalking)
	assert.False(t, f.DigitalSurveillance)

	f = ExtractRiskFlags("he keeps tailing me and uses Find My to see where I am")
	assert.True(t, f.Stalking)
	assert.True(t, f.DigitalSurveillance)
	assert.False(t, f.ThreatsToKill)

	assert.Equal(t, Flags{}, ExtractRiskFlags("a quiet day"))
}

func TestSimpleSentiment(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"negative only", "I am scared", SentimentNegative},
		{"positive only", "that was helpful, thank you", SentimentPositive},
		{"both", "I was scared but I feel calm now", SentimentMixed},
		{"neither", "went to the store", SentimentNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SimpleSentiment(tt.text))
		})
	}
}

func TestCalculateRiskScores(t *testing.T) {
	s := CalculateRiskScores(Flags{})
	assert.Equal(t, Scores{}, s)

	s = CalculateRiskScores(Flags{Stalking: true, ChildrenPresent: true})
	assert.Equal(t, 5, s.RiskPoints)
	assert.Equal(t, 50, s.SeverityScore)
	assert.InDelta(t, 0.5, s.EscalationIndex, 1e-9)

	all := Flags{
		ThreatsToKill: true, Strangulation: true, WeaponInvolved: true,
		ChildrenPresent: true, Stalking: true, DigitalSurveillance: true,
	}
	s = CalculateRiskScores(all)
	assert.Equal(t, 24, s.RiskPoints)
	assert.Equal(t, 100, s.SeverityScore)
	assert.Equal(t, 1.0, s.EscalationIndex)
}

func TestIsHighRisk(t *testing.T) {
	assert.False(t, IsHighRisk(Flags{Stalking: true, DigitalSurveillance: true, ChildrenPresent: true}))
	assert.True(t, IsHighRisk(Flags{ThreatsToKill: true}))
	assert.True(t, IsHighRisk(Flags{Strangulation: true}))
	assert.True(t, IsHighRisk(Flags{WeaponInvolved: true}))
}

func TestAnalyze(t *testing.T) {
	a := KeywordAnalyzer{}.Analyze("He tried to strangle me and I'm scared")
	assert.Equal(t, IntentEmotionalSupport, a.Intent)
	assert.Equal(t, "physical", a.AbuseLabel())
	assert.Equal(t, SentimentNegative, a.Sentiment)
	assert.True(t, a.Flags.Strangulation)
	assert.Equal(t, 7, a.RiskPoints)
	assert.True(t, a.HighRisk)
	assert.Contains(t, EmergencyMessage(), "1-800-799-SAFE")
}

func TestCountMatches(t *testing.T) {
	assert.Equal(t, 2, CountMatches("a gun and a knife", []string{"gun", "knife", "weapon"}))
	assert.Equal(t, 0, CountMatches("", []string{"gun"}))
}
