package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/fanout/internal/orchestrator"
)

var cancelReason string

var cancelCmd = &cobra.Command{
	Use:   "cancel <missionId>",
	Short: "Ask the process running a mission to cancel it",
	Long: `Write a cancel signal for a mission. The fanout process running it
picks the signal up, skips every unfinished subtask and still announces
the report.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		missionID := args[0]
		if !cfg.Signals.Enabled {
			return fmt.Errorf("cancel signals are disabled (signals.enabled: false)")
		}
		if err := orchestrator.WriteCancelSignal(cfg.Signals.Dir, missionID, cancelReason); err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("Cancel requested for mission %s", missionID), color.FgGreen)
		fmt.Printf("  Signal: %s\n", orchestrator.SignalPath(cfg.Signals.Dir, missionID))
		return nil
	},
}

func init() {
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "cancelled by requester", "Reason recorded on skipped subtasks")
}
