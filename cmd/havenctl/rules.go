package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mbd888/haven/internal/risk"
)

func newRulesCmd() *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "Inspect risk rule files",
	}
	rules.AddCommand(&cobra.Command{
		Use:   "check [file]",
		Short: "Parse and validate a rule file",
		Long: `Parses a YAML rule file, validates its thresholds and checks that every
feature maps to a known evaluator. Without a file the embedded default rules
are checked. Exits non-zero on any problem.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return checkRules(cmd.OutOrStdout(), path)
		},
	})
	return rules
}

func checkRules(out io.Writer, path string) error {
	name := path
	rs := risk.DefaultRules()
	if path == "" {
		name = "embedded default rules"
	} else {
		var err error
		if rs, err = risk.LoadRules(path); err != nil {
			fmt.Fprintf(out, "%s %s: %v\n", color.RedString("FAIL"), name, err)
			return err
		}
	}

	unknown := risk.NewRegistry().Unknown(rs)

	fmt.Fprintf(out, "%s (version %d)\n", name, rs.Version)
	fmt.Fprintf(out, "thresholds: warn=%.2f high=%.2f\n", rs.Thresholds.Warn, rs.Thresholds.High)
	fmt.Fprintf(out, "features (%d):\n", len(rs.Features))
	for _, f := range rs.Features {
		line := fmt.Sprintf("  %-28s weight=%.2f", f.Name, rs.Weight(f.Name))
		if f.Evaluator != "" && f.Evaluator != f.Name {
			line += " evaluator=" + f.Evaluator
		}
		fmt.Fprintln(out, line)
	}

	if len(unknown) > 0 {
		err := fmt.Errorf("no evaluator for: %s", strings.Join(unknown, ", "))
		fmt.Fprintf(out, "%s %v\n", color.RedString("FAIL"), err)
		return err
	}
	fmt.Fprintln(out, color.GreenString("OK"))
	return nil
}
