package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	cleanupOlderThan   time.Duration
	cleanupInterrupted bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge old worker sessions and close interrupted missions",
	Long: `Clean up the state database.

This command:
  - Deletes retained and discarded worker sessions older than --older-than
  - With --interrupted, closes missions left open by a process that exited

Examples:
  fanout cleanup                       # Purge sessions older than 30 days
  fanout cleanup --older-than 24h
  fanout cleanup --interrupted`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 30*24*time.Hour, "Purge sessions last updated before this age")
	cleanupCmd.Flags().BoolVar(&cleanupInterrupted, "interrupted", false, "Close missions whose process exited")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	db, err := openExistingState()
	if err != nil || db == nil {
		return err
	}
	defer db.Close()

	if cleanupInterrupted {
		interrupted, err := db.FindInterrupted()
		if err != nil {
			return err
		}
		for _, m := range interrupted {
			if err := db.CloseInterrupted(context.Background(), m.MissionID); err != nil {
				printStatus("✗", fmt.Sprintf("Mission %s: %v", shortID(m.MissionID), err), color.FgRed)
				continue
			}
			printStatus("✓", fmt.Sprintf("Closed mission %s (%s), %d unfinished subtask(s) skipped",
				shortID(m.MissionID), m.Label, m.Unfinished), color.FgGreen)
		}
		if len(interrupted) == 0 {
			fmt.Println("No interrupted missions found.")
		}
	}

	n, err := db.PurgeRetainedSessions(cleanupOlderThan)
	if err != nil {
		return fmt.Errorf("purge sessions: %w", err)
	}
	printStatus("✓", fmt.Sprintf("Purged %d session(s) older than %s", n, formatDuration(cleanupOlderThan)), color.FgGreen)
	return nil
}
