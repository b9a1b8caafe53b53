package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"onboard/internal/journal"
)

var (
	historyTask  string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent guidance session events",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyTask, "task", "", "Filter by task id")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum events to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer j.Close()

	entries, err := j.Recent(cmd.Context(), historyTask, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No recorded events.")
		return nil
	}

	for _, e := range entries {
		detail := e.Detail
		if detail != "" {
			detail = "  " + detail
		}
		fmt.Printf("%s  %-18s %-10s%s\n",
			e.At.Local().Format("2006-01-02 15:04:05"), e.Kind, e.TaskID, detail)
	}
	return nil
}
