package risk

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRules(t *testing.T) {
	rs := DefaultRules()
	assert.Equal(t, 1, rs.Version)
	assert.Equal(t, Thresholds{Warn: 0.45, High: 0.65}, rs.Thresholds)
	require.Len(t, rs.Features, 18)
	assert.Equal(t, FeatureSuicidality, rs.Features[0].Name)
	assert.Equal(t, -0.2, rs.Weight(FeaturePositiveAffect7d))
	assert.Empty(t, NewRegistry().Unknown(rs))
}

func TestParseRules(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		features []FeatureSpec
		th       Thresholds
	}{
		{
			name: "features default to weights order",
			doc: `
weights:
  b: 0.2
  a: 0.5
`,
			features: []FeatureSpec{{"b", "b"}, {"a", "a"}},
			th:       Thresholds{Warn: DefaultWarnThreshold, High: DefaultHighThreshold},
		},
		{
			name: "features as a list",
			doc: `
weights: {a: 0.5}
thresholds: {warn: 0.3}
features: [z, a]
`,
			features: []FeatureSpec{{"z", "z"}, {"a", "a"}},
			th:       Thresholds{Warn: 0.3, High: DefaultHighThreshold},
		},
		{
			name: "features as a mapping",
			doc: `
version: 2
thresholds: {warn: 0.2, high: 0.9}
features:
  self_harm: suicidality
  other: ~
`,
			features: []FeatureSpec{{"self_harm", "suicidality"}, {"other", "other"}},
			th:       Thresholds{Warn: 0.2, High: 0.9},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := ParseRules([]byte(tt.doc))
			require.NoError(t, err)
			assert.Equal(t, tt.features, rs.Features)
			assert.Equal(t, tt.th, rs.Thresholds)
		})
	}
}

func TestParseRules_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		is   error
	}{
		{"empty", ``, ErrEmptyRules},
		{"only version", `version: 1`, ErrEmptyRules},
		{"high below warn", "weights: {a: 1}\nthresholds: {warn: 0.7, high: 0.5}", ErrInvalidThresholds},
		{"out of range", "weights: {a: 1}\nthresholds: {high: 1.5}", ErrInvalidThresholds},
		{"weights not a mapping", `weights: [a, b]`, nil},
		{"non numeric weight", `weights: {a: lots}`, nil},
		{"infinite weight", `weights: {a: .inf}`, nil},
		{"duplicate feature", "weights: {a: 1}\nfeatures: [a, a]", nil},
		{"malformed yaml", `weights: {a: 1`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.doc))
			require.Error(t, err)
			if tt.is != nil {
				assert.True(t, errors.Is(err, tt.is), "got %v", err)
			}
		})
	}
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("weights:\n  suicidality: 0.9\n"), 0o600))

	rs, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"suicidality"}, rs.FeatureNames())

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
