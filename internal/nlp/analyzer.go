package nlp

// Analysis is the full triage result for one piece of text. It is computed
// once at write time and stored next to the ciphertext.
type Analysis struct {
	Intent     Intent      `json:"intent"`
	AbuseTypes []AbuseType `json:"abuse_types"`
	Sentiment  float64     `json:"sentiment_score"`
	Flags      Flags       `json:"risk_flags"`
	Scores
	HighRisk bool `json:"is_high_risk"`
}

// AbuseLabel returns the comma-joined abuse types.
func (a Analysis) AbuseLabel() string {
	return AbuseLabel(a.AbuseTypes)
}

// Analyzer produces an Analysis from plaintext.
type Analyzer interface {
	Analyze(text string) Analysis
}

// KeywordAnalyzer is the default Analyzer built on the keyword extractors.
type KeywordAnalyzer struct{}

// Analyze runs every extractor over text.
func (KeywordAnalyzer) Analyze(text string) Analysis {
	return Analyze(text)
}

// Analyze is the package-level form of KeywordAnalyzer.Analyze.
func Analyze(text string) Analysis {
	flags := ExtractRiskFlags(text)
	return Analysis{
		Intent:     ClassifyIntent(text),
		AbuseTypes: ClassifyAbuse(text),
		Sentiment:  SimpleSentiment(text),
		Flags:      flags,
		Scores:     CalculateRiskScores(flags),
		HighRisk:   IsHighRisk(flags),
	}
}
