package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/mbd888/haven/internal/chat"
	"github.com/mbd888/haven/internal/config"
	"github.com/mbd888/haven/internal/encryption"
	"github.com/mbd888/haven/internal/journal"
	"github.com/mbd888/haven/internal/risk"
)

type evaluateOptions struct {
	save      bool
	rulesPath string
	timeout   time.Duration
}

func newEvaluateCmd() *cobra.Command {
	opts := evaluateOptions{}
	cmd := &cobra.Command{
		Use:   "evaluate <user-id>",
		Short: "Score a user against the configured database",
		Long: `Runs the risk engine for one user against DATABASE_URL using APP_ENC_KEY
to read their records. Nothing is stored unless --save is given, in which case
a snapshot is appended exactly as the API would.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.rulesPath == "" {
				opts.rulesPath = cfg.RiskRulesPath
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return evaluate(ctx, cmd.OutOrStdout(), cfg, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.save, "save", false, "persist the assessment as a snapshot")
	cmd.Flags().StringVar(&opts.rulesPath, "rules", "", "rule file to use (default: RISK_RULES_PATH or embedded rules)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline")
	return cmd
}

func evaluate(ctx context.Context, out io.Writer, cfg *config.Config, userID string, opts evaluateOptions) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	rules := risk.DefaultRules()
	if opts.rulesPath != "" {
		var err error
		if rules, err = risk.LoadRules(opts.rulesPath); err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
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

	source := risk.NewStoreSource(journal.NewPostgresStore(db), chat.NewPostgresStore(db))
	engine := risk.NewEngine(rules, source, encryption.NewCachingDecrypter(cipher, cfg.DecryptCacheSize),
		risk.NewPostgresStore(db))

	var a *risk.Assessment
	if opts.save {
		a = engine.Evaluate(ctx, userID)
	} else {
		a = engine.Preview(ctx, userID)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(a)
}
