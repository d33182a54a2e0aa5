// Command havenctl is the operator CLI for Haven: it validates risk rule
// files, runs the text analyzer, scores users against the live store and
// seeds development data.
//
// Usage:
//
//	havenctl rules check [file]        # validate a rule file (default: embedded rules)
//	havenctl analyze <text...>         # print the triage analysis of text ("-" reads stdin)
//	havenctl evaluate <user-id> [--save]
//	havenctl seed                      # write synthetic users for local development
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Build info - set by ldflags
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "havenctl",
		Short:        "Operator tools for the Haven risk engine",
		Version:      Version,
		SilenceUsage: true,
	}
	root.AddCommand(newRulesCmd(), newAnalyzeCmd(), newEvaluateCmd(), newSeedCmd())
	return root
}
