package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mbd888/haven/internal/nlp"
)

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <text...>",
		Short: "Print the keyword triage analysis of text",
		Long:  `Runs the same analyzer chat messages go through and prints the result as JSON. Pass "-" to read the text from stdin.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(b)
			}
			return analyze(cmd.OutOrStdout(), text)
		},
	}
}

func analyze(out io.Writer, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("text is empty")
	}
	a := nlp.Analyze(text)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a); err != nil {
		return err
	}
	if a.HighRisk {
		fmt.Fprintln(out, color.New(color.FgRed, color.Bold).Sprint(nlp.EmergencyMessage()))
	}
	return nil
}
