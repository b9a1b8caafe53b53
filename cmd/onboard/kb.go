package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"onboard/internal/kb"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Inspect and manage the action knowledge base",
}

var kbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the catalog's actions and their step counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := kb.LoadOrDefault(cfg.KB.Path)
		if err != nil {
			return fmt.Errorf("failed to load knowledge base: %w", err)
		}
		for pname, p := range catalog.Platforms {
			fmt.Printf("%s (%s)\n", pname, p.Domain)
			for aname, a := range p.Actions {
				fmt.Printf("  %-16s %-32s %d steps\n", aname, a.Title, len(a.Steps))
			}
		}
		return nil
	},
}

var kbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the built-in catalog to the configured path for editing",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := kb.WriteDefault(cfg.KB.Path); err != nil {
			return fmt.Errorf("failed to write %s: %w", cfg.KB.Path, err)
		}
		fmt.Printf("Wrote built-in catalog to %s\n", cfg.KB.Path)
		return nil
	},
}

var kbMatchCmd = &cobra.Command{
	Use:   "match [text]",
	Short: "Score free text against the catalog",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := kb.LoadOrDefault(cfg.KB.Path)
		if err != nil {
			return fmt.Errorf("failed to load knowledge base: %w", err)
		}
		text := args[0]
		for _, a := range args[1:] {
			text += " " + a
		}
		matcher := kb.NewMatcher(catalog, cfg.Matcher)
		ranked := matcher.Rank(text, "")
		if len(ranked) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for _, r := range ranked {
			marker := " "
			if r.Score >= cfg.Matcher.AIFallbackThreshold {
				marker = "*"
			}
			fmt.Printf("%s %.2f  %s/%s  %s\n", marker, r.Score, r.Platform, r.Key, r.Action.Title)
		}
		return nil
	},
}

func init() {
	kbCmd.AddCommand(kbListCmd)
	kbCmd.AddCommand(kbInitCmd)
	kbCmd.AddCommand(kbMatchCmd)
}
