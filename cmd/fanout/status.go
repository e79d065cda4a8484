package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/fanout/internal/state"
	"github.com/ShayCichocki/fanout/pkg/models"
)

var (
	statusLimit  int
	statusReport bool
)

var statusCmd = &cobra.Command{
	Use:   "status [missionId]",
	Short: "Show recorded missions",
	Long: `Display missions recorded in the state database.

Without arguments, lists recent missions newest first.
With a mission ID (or a unique prefix), shows its subtasks and worker
sessions.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 20, "Number of missions to list")
	statusCmd.Flags().BoolVar(&statusReport, "report", false, "Print the full report of a closed mission")
}

func runStatus(cmd *cobra.Command, args []string) error {
	db, err := openExistingState()
	if err != nil || db == nil {
		return err
	}
	defer db.Close()

	if len(args) == 0 {
		return displayMissions(db)
	}

	m, err := findMission(db, args[0])
	if err != nil {
		return err
	}
	return displayMission(db, m)
}

// openExistingState opens the state database if one exists. A nil DB with
// a nil error means there is nothing recorded yet.
func openExistingState() (*state.DB, error) {
	path := cfg.State.Path
	if path == "" {
		path = state.DefaultDBPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Println("No missions recorded yet. Run 'fanout run <mission.yaml>' to start one.")
		return nil, nil
	}
	return openState(cfg)
}

// findMission resolves a full ID or unique prefix.
func findMission(db *state.DB, id string) (*state.MissionRecord, error) {
	m, err := db.GetMission(id)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, state.ErrNotFound) {
		return nil, err
	}

	all, err := db.ListMissions("", 0)
	if err != nil {
		return nil, err
	}
	var matches []state.MissionRecord
	for _, candidate := range all {
		if strings.HasPrefix(candidate.ID, id) {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no mission matches %q", id)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("%q matches %d missions; use more characters", id, len(matches))
	}
}

func displayMissions(db *state.DB) error {
	missions, err := db.ListMissions("", statusLimit)
	if err != nil {
		return err
	}
	if len(missions) == 0 {
		fmt.Println("No missions recorded yet.")
		return nil
	}

	fmt.Printf("%-10s %-22s %-8s %-15s %s\n", "ID", "LABEL", "STATE", "OUTCOME", "AGE")
	for _, m := range missions {
		outcome := string(m.Outcome)
		if outcome == "" {
			outcome = "-"
		}
		fmt.Printf("%-10s %-22s %-8s %s %s\n",
			shortID(m.ID),
			truncate(m.Label, 22),
			m.State,
			outcomeColor(m.Outcome).Sprintf("%-15s", outcome),
			formatDuration(time.Since(m.CreatedAt)))
	}

	interrupted, err := db.FindInterrupted()
	if err != nil {
		return err
	}
	if len(interrupted) > 0 {
		fmt.Println()
		printStatus("⚠", fmt.Sprintf("%d mission(s) were left open by a process that exited; the next 'fanout run' closes them", len(interrupted)), color.FgYellow)
	}
	return nil
}

func displayMission(db *state.DB, m *state.MissionRecord) error {
	fmt.Printf("Mission: %s\n", m.ID)
	fmt.Printf("  Label:     %s\n", m.Label)
	fmt.Printf("  Requester: %s\n", m.Requester)
	fmt.Printf("  State:     %s\n", m.State)
	if m.Outcome != "" {
		fmt.Printf("  Outcome:   %s\n", outcomeColor(m.Outcome).Sprint(m.Outcome))
	}
	fmt.Printf("  Cleanup:   %s\n", m.CleanupPolicy)
	fmt.Printf("  Budget:    %d\n", m.SpawnBudget)
	fmt.Printf("  Started:   %s ago\n", formatDuration(time.Since(m.CreatedAt)))
	if m.ClosedAt != nil {
		fmt.Printf("  Duration:  %s\n", formatDuration(m.ClosedAt.Sub(m.CreatedAt)))
	}

	subtasks, err := db.ListSubtasks(m.ID)
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println("Subtasks:")
	for _, st := range subtasks {
		line := fmt.Sprintf("  %s %-16s %-14s %-10s", stateSymbol(st.State), st.ID, st.AgentID, st.State)
		if st.Reason != "" {
			line += " " + truncate(st.Reason, 60)
		}
		fmt.Println(line)
	}

	sessions, err := db.ListSessions(m.ID)
	if err != nil {
		return err
	}
	if len(sessions) > 0 {
		fmt.Println()
		fmt.Println("Worker sessions:")
		for _, s := range sessions {
			fmt.Printf("  %-10s %s\n", s.Status, s.SessionKey)
		}
	}

	if statusReport && m.Report != "" {
		fmt.Println()
		fmt.Println(m.Report)
	}
	return nil
}

// stateSymbol returns a coloured marker for a subtask state.
func stateSymbol(s models.SubtaskState) string {
	switch s {
	case models.SubtaskSucceeded:
		return color.GreenString("✓")
	case models.SubtaskFailed:
		return color.RedString("✗")
	case models.SubtaskSkipped:
		return color.YellowString("-")
	case models.SubtaskRunning:
		return color.CyanString("⏳")
	default:
		return " "
	}
}
