package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/haven/internal/chat"
	"github.com/mbd888/haven/internal/config"
	"github.com/mbd888/haven/internal/encryption"
	"github.com/mbd888/haven/internal/journal"
	"github.com/mbd888/haven/internal/profile"
	"github.com/mbd888/haven/internal/risk"
)

func init() {
	color.NoColor = true
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRulesCheck_Default(t *testing.T) {
	out, err := run(t, "", "rules", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "embedded default rules")
	assert.Contains(t, out, "thresholds: warn=0.45 high=0.65")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "OK"))
}

func TestRulesCheck_File(t *testing.T) {
	path := writeFile(t, `
version: 3
weights:
  suicidality: 0.9
  weapon_indicator: 0.5
thresholds:
  warn: 0.4
  high: 0.7
`)
	out, err := run(t, "", "rules", "check", path)
	require.NoError(t, err)
	assert.Contains(t, out, "(version 3)")
	assert.Contains(t, out, "features (2):")
	assert.Contains(t, out, "suicidality")
	assert.Contains(t, out, "OK")
}

func TestRulesCheck_UnknownEvaluator(t *testing.T) {
	path := writeFile(t, `
weights:
  horoscope_score: 1.0
`)
	out, err := run(t, "", "rules", "check", path)
	require.Error(t, err)
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "horoscope_score")
}

func TestRulesCheck_BadThresholds(t *testing.T) {
	path := writeFile(t, `
weights:
  suicidality: 1.0
thresholds:
  warn: 0.8
  high: 0.2
`)
	out, err := run(t, "", "rules", "check", path)
	require.Error(t, err)
	assert.Contains(t, out, "FAIL")
}

func TestAnalyze(t *testing.T) {
	out, err := run(t, "", "analyze", "he", "has", "a", "gun")
	require.NoError(t, err)
	assert.Contains(t, out, `"weapon_involved": true`)
	assert.Contains(t, out, `"is_high_risk": true`)
	assert.Contains(t, out, "National DV Hotline")
}

func TestAnalyze_Stdin(t *testing.T) {
	out, err := run(t, "where can I find a shelter", "analyze", "-")
	require.NoError(t, err)
	assert.Contains(t, out, `"is_high_risk": false`)
	assert.NotContains(t, out, "National DV Hotline")
}

func TestAnalyze_Empty(t *testing.T) {
	_, err := run(t, "   ", "analyze", "-")
	assert.Error(t, err)
}

func TestEvaluate_RequiresDatabase(t *testing.T) {
	var out bytes.Buffer
	err := evaluate(context.Background(), &out, &config.Config{EncryptionKey: config.DefaultEncryptionKey},
		"u1", evaluateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestSeeder_WritesPersonasOnce(t *testing.T) {
	c, err := encryption.NewCipher(config.DefaultEncryptionKey)
	require.NoError(t, err)
	ps, js, cs, rs := profile.NewMemoryStore(), journal.NewMemoryStore(), chat.NewMemoryStore(), risk.NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	results, err := newSeeder(ps, js, cs, rs, c).run(ctx, now, personas)
	require.NoError(t, err)
	require.Len(t, results, len(personas))
	for _, r := range results {
		assert.False(t, r.skipped, r.id)
		assert.Equal(t, 3, r.journals, r.id)
		assert.Contains(t, []risk.Level{risk.LevelLow, risk.LevelWarn, risk.LevelHigh}, r.level, r.id)
	}
	assert.Greater(t, results[1].score, 0.0, "weapon mention should score")

	p, err := ps.Get(ctx, "seed-005")
	require.NoError(t, err)
	require.NotNil(t, p.VictimHousing)
	assert.Equal(t, "shelter", *p.VictimHousing)

	entries, err := js.ListByUser(ctx, "seed-001", nil, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.NotContains(t, entries[0].Ciphertext, "kids")

	events, err := cs.EventsSince(ctx, "seed-005", now.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Strangulation)
	assert.Equal(t, "advocate_only", events[0].ConfidentialityLevel)

	again, err := newSeeder(ps, js, cs, rs, c).run(ctx, now, personas)
	require.NoError(t, err)
	for _, r := range again {
		assert.True(t, r.skipped, r.id)
	}
	entries, _ = js.ListByUser(ctx, "seed-001", nil, 10)
	assert.Len(t, entries, 3)
	snaps, _ := rs.Latest(ctx, "seed-001", 10)
	assert.Len(t, snaps, 1)

	var out bytes.Buffer
	printSeedResults(&out, again)
	assert.Contains(t, out.String(), "(exists)")
}

func TestSeed_Guards(t *testing.T) {
	var out bytes.Buffer
	err := seed(context.Background(), &out, &config.Config{Env: "production", DatabaseURL: "postgres://x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "production")

	err = seed(context.Background(), &out, &config.Config{Env: "development"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
