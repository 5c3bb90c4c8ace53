package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opskit/stevedore/pkg/config"
	"github.com/opskit/stevedore/pkg/journal"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past deployment runs",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().String("journal", "", "Run history database file")
	historyCmd.Flags().IntP("limit", "n", 10, "Number of runs to show")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("journal")
	if path == "" {
		path = config.FromEnv().JournalPath
	}
	limit, _ := cmd.Flags().GetInt("limit")

	j, err := journal.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer j.Close()

	entries, err := j.List(limit)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No recorded runs.")
		return nil
	}

	fmt.Printf("%-20s %-18s %-9s %-9s %s\n", "WHEN", "HOST", "VERDICT", "DURATION", "RUN ID")
	for _, e := range entries {
		duration := e.FinishedAt.Sub(e.StartedAt).Round(time.Second)
		host := e.Host
		if host == "" {
			host = "(local)"
		}
		fmt.Printf("%-20s %-18s %-9s %-9s %s\n",
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			host, e.Verdict, duration, e.RunID,
		)
	}
	return nil
}
