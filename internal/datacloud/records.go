package datacloud

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mbd888/haven/internal/chat"
	"github.com/mbd888/haven/internal/nlp"
	"github.com/mbd888/haven/internal/risk"
)

// ChatEventRecord maps an event onto the ChatEvent ingest schema. Empty
// optional fields are left out.
func ChatEventRecord(e *chat.Event, userHash string) Record {
	r := Record{
		"event_id":             e.ID,
		"user_id_hash":         userHash,
		"created_at":           isoZ(e.CreatedAt),
		"entry_source":         e.EntrySource,
		"children_present":     e.ChildrenPresent,
		"event_type":           string(e.EventType),
		"type_of_abuse":        e.TypeOfAbuse,
		"sentiment_score":      e.SentimentScore,
		"risk_points":          float64(e.RiskPoints),
		"severity_score":       float64(e.SeverityScore),
		"escalation_index":     e.EscalationIndex,
		"threats_to_kill":      e.ThreatsToKill,
		"strangulation":        e.Strangulation,
		"weapon_involved":      e.WeaponInvolved,
		"stalking":             e.Stalking,
		"digital_surveillance": e.DigitalSurveillance,
		"model_summary":        modelSummary(e),
	}
	setNonEmpty(r, "chat_id", e.ChatID)
	setNonEmpty(r, "jurisdiction", e.Jurisdiction)
	setNonEmpty(r, "location_type", e.LocationType)
	setNonEmpty(r, "confidentiality_level", e.ConfidentialityLevel)
	setNonEmpty(r, "share_with", e.ShareWith)
	for _, k := range chat.ExtraKeys {
		setNonEmpty(r, k, e.Extra[k])
	}
	return r
}

// RiskSnapshotRecord maps an assessment onto the RiskSnapshot ingest schema.
func RiskSnapshotRecord(a *risk.Assessment, userHash string) Record {
	scores, err := json.Marshal(a.FeatureScores)
	if err != nil || a.FeatureScores == nil {
		scores = []byte("{}")
	}
	return Record{
		"user_id_hash":   userHash,
		"created_at":     isoZ(a.Timestamp),
		"score":          a.Score,
		"level":          string(a.Level),
		"top_reasons":    strings.Join(a.Reasons, ","),
		"feature_scores": string(scores),
	}
}

// modelSummary is a label-only description of the analysis.
func modelSummary(e *chat.Event) string {
	var flags []string
	f := e.Flags()
	for _, fl := range []struct {
		on   bool
		name string
	}{
		{f.ThreatsToKill, "threats_to_kill"},
		{f.Strangulation, "strangulation"},
		{f.WeaponInvolved, "weapon_involved"},
		{f.ChildrenPresent, "children_present"},
		{f.Stalking, "stalking"},
		{f.DigitalSurveillance, "digital_surveillance"},
	} {
		if fl.on {
			flags = append(flags, fl.name)
		}
	}
	if len(flags) == 0 {
		flags = []string{"none"}
	}
	s := "intent=" + string(e.EventType) + "; abuse=" + e.TypeOfAbuse + "; flags=" + strings.Join(flags, ",")
	if nlp.IsHighRisk(f) {
		s += "; high_risk"
	}
	return s
}

func setNonEmpty(r Record, key, value string) {
	if value != "" {
		r[key] = value
	}
}

func isoZ(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}
