package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbd888/haven/internal/chat"
	"github.com/mbd888/haven/internal/config"
	"github.com/mbd888/haven/internal/encryption"
	"github.com/mbd888/haven/internal/journal"
	"github.com/mbd888/haven/internal/profile"
	"github.com/mbd888/haven/internal/risk"
)

// persona is one synthetic user written by `havenctl seed`.
type persona struct {
	id           string
	profile      profile.Update
	story        string
	jurisdiction string
	support      string
}

func ptr[T any](v T) *T { return &v }

var personas = []persona{
	{
		id: "seed-001",
		profile: profile.Update{
			Age: ptr(34), Gender: ptr("female"), RelationshipStatus: ptr("married"), NumChildren: ptr(2),
			VictimHousing: ptr("with_abuser"), HasTrustedSupport: ptr(false),
			DefaultConfidentiality: ptr("advocate_only"), DefaultShareWith: ptr("advocate"),
		},
		story:        "He controls my money and tracks my phone. I'm worried about the kids.",
		jurisdiction: "Santa Clara County",
	},
	{
		id: "seed-002",
		profile: profile.Update{
			Age: ptr(28), Gender: ptr("female"), RelationshipStatus: ptr("cohabiting"), NumChildren: ptr(0),
			VictimHousing: ptr("with_abuser"), HasTrustedSupport: ptr(false),
			DefaultConfidentiality: ptr("private"), DefaultShareWith: ptr("nobody"),
		},
		story:        "He keeps showing up uninvited and follows me after work. He has a gun at home.",
		jurisdiction: "King County",
	},
	{
		id: "seed-003",
		profile: profile.Update{
			Age: ptr(41), Gender: ptr("male"), RelationshipStatus: ptr("married"), NumChildren: ptr(1),
			VictimHousing: ptr("safe"), HasTrustedSupport: ptr(true),
			DefaultConfidentiality: ptr("advocate_only"), DefaultShareWith: ptr("legal"),
		},
		story:        "I got a restraining order and I'm working with a lawyer and a therapist.",
		jurisdiction: "Travis County",
		support:      "therapist",
	},
	{
		id: "seed-004",
		profile: profile.Update{
			Age: ptr(24), Gender: ptr("non-binary"), RelationshipStatus: ptr("dating"), NumChildren: ptr(0),
			VictimHousing: ptr("unstable"), HasTrustedSupport: ptr(true),
			DefaultConfidentiality: ptr("private"), DefaultShareWith: ptr("nobody"),
		},
		story:        "I left and I'm staying with friends. Working on a safety plan and feeling hopeful.",
		jurisdiction: "Cook County",
		support:      "friends",
	},
	{
		id: "seed-005",
		profile: profile.Update{
			Age: ptr(52), Gender: ptr("female"), RelationshipStatus: ptr("separated"), NumChildren: ptr(3),
			VictimHousing: ptr("shelter"), HasTrustedSupport: ptr(true),
			DefaultConfidentiality: ptr("advocate_only"), DefaultShareWith: ptr("advocate"),
		},
		story:        "He choked me last month and said he would kill me if I left. I'm in a shelter now.",
		jurisdiction: "Maricopa County",
	},
	{
		id: "seed-006",
		profile: profile.Update{
			Age: ptr(31), Gender: ptr("male"), RelationshipStatus: ptr("cohabiting"), NumChildren: ptr(0),
			VictimHousing: ptr("with_abuser"), HasTrustedSupport: ptr(true),
			DefaultConfidentiality: ptr("private"), DefaultShareWith: ptr("nobody"),
		},
		story:        "My partner demands my passwords and reads my messages. I feel hopeless and alone.",
		jurisdiction: "New York County",
	},
}

// followUps are the later journal entries every persona gets.
var followUps = []string{
	"Feeling overwhelmed but considering reaching out to an advocate.",
	"Small step today toward safety. Documenting incidents and planning next moves.",
}

// seeder writes personas through the same services the API uses, so seeded
// rows are indistinguishable from live traffic.
type seeder struct {
	profiles *profile.Service
	journals *journal.Service
	chats    *chat.Service
	engine   *risk.Engine
	at       time.Time
}

func newSeeder(p profile.Store, j journal.Store, c chat.Store, snaps risk.SnapshotStore, crypter *encryption.Cipher) *seeder {
	s := &seeder{}
	clock := func() time.Time { return s.at }
	s.profiles = profile.NewService(p).WithClock(clock)
	s.journals = journal.NewService(j, crypter).WithClock(clock)
	s.chats = chat.NewService(c, crypter).WithProfiles(s.profiles).WithClock(clock)
	s.engine = risk.NewEngine(risk.DefaultRules(), risk.NewStoreSource(j, c), crypter, snaps).WithClock(clock)
	return s
}

type seedResult struct {
	id       string
	skipped  bool
	journals int
	level    risk.Level
	score    float64
}

// run seeds personas whose profile does not exist yet. Records are spread
// over the days before now, oldest first.
func (s *seeder) run(ctx context.Context, now time.Time, ps []persona) ([]seedResult, error) {
	results := make([]seedResult, 0, len(ps))
	for _, p := range ps {
		_, err := s.profiles.Store().Get(ctx, p.id)
		if err == nil {
			results = append(results, seedResult{id: p.id, skipped: true})
			continue
		}
		if !errors.Is(err, profile.ErrNotFound) {
			return results, fmt.Errorf("%s: %w", p.id, err)
		}

		s.at = now.AddDate(0, 0, -10)
		if _, err := s.profiles.Update(ctx, p.id, p.profile); err != nil {
			return results, fmt.Errorf("%s: profile: %w", p.id, err)
		}

		texts := append([]string{p.story}, followUps...)
		for i, text := range texts {
			s.at = now.AddDate(0, 0, -(len(texts)-i)*3)
			if _, err := s.journals.Create(ctx, p.id, text); err != nil {
				return results, fmt.Errorf("%s: journal: %w", p.id, err)
			}
		}

		s.at = now.Add(-time.Hour)
		req := chat.SendRequest{
			UserID:       p.id,
			ChatID:       "journal_" + p.id,
			Text:         p.story,
			EntrySource:  "seed",
			Jurisdiction: p.jurisdiction,
		}
		if p.support != "" {
			req.Extra = map[string]string{"support": p.support}
		}
		if _, err := s.chats.Send(ctx, req); err != nil {
			return results, fmt.Errorf("%s: chat: %w", p.id, err)
		}

		s.at = now
		a := s.engine.Evaluate(ctx, p.id)
		results = append(results, seedResult{
			id: p.id, journals: len(texts), level: a.Level, score: a.Score,
		})
	}
	return results, nil
}

func newSeedCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write synthetic users for local development",
		Long: `Creates a fixed set of synthetic users in DATABASE_URL: a profile, three
journals over the last nine days, one analysed chat message and a risk
snapshot each. Users that already have a profile are left alone, so the
command is safe to re-run. Refuses to run when ENV=production.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return seed(ctx, cmd.OutOrStdout(), cfg)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall deadline")
	return cmd
}

func seed(ctx context.Context, out io.Writer, cfg *config.Config) error {
	if cfg.IsProduction() {
		return fmt.Errorf("refusing to seed a production database")
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	cipher, err := encryption.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	ps, js, cs, rs := profile.NewPostgresStore(db), journal.NewPostgresStore(db),
		chat.NewPostgresStore(db), risk.NewPostgresStore(db)
	for _, m := range []interface{ Migrate(context.Context) error }{ps, js, cs, rs} {
		if err := m.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	results, err := newSeeder(ps, js, cs, rs, cipher).run(ctx, time.Now().UTC(), personas)
	printSeedResults(out, results)
	return err
}

func printSeedResults(out io.Writer, results []seedResult) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "USER\tJOURNALS\tLEVEL\tSCORE")
	for _, r := range results {
		if r.skipped {
			_, _ = fmt.Fprintf(tw, "%s\t-\t(exists)\t-\n", r.id)
			continue
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%.3f\n", r.id, r.journals, r.level, r.score)
	}
	_ = tw.Flush()
}
