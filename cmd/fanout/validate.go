package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/fanout/internal/validate"
	"github.com/ShayCichocki/fanout/pkg/models"
)

var validateMode string

var validateCmd = &cobra.Command{
	Use:   "validate <mission.yaml>",
	Short: "Check a mission file without running it",
	Long: `Validate a mission file against the configured delegation policy and
print the dependency graph that would be scheduled. Nothing is started
and no session is allocated.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateMode, "mode", "graph", "Submission mode: graph, sequential, or parallel")
}

func runValidate(cmd *cobra.Command, args []string) error {
	in, err := loadMissionFile(args[0])
	if err != nil {
		return err
	}
	mode, err := parseMode(validateMode)
	if err != nil {
		return err
	}

	resolver, err := newResolver(cfg)
	if err != nil {
		return err
	}
	requester := cfg.RequesterModel()
	allow, err := resolver.ResolveAllowedAgents(context.Background(), requester.Identity)
	if err != nil {
		return fmt.Errorf("resolve allowed agents: %w", err)
	}

	req := in.Request(requester, mode)
	if req.Cleanup == "" {
		req.Cleanup = models.CleanupPolicy(cfg.Mission.DefaultCleanup)
	}

	m, err := validate.Validate(req, allow)
	if err != nil {
		printStatus("✗", err.Error(), color.FgRed)
		return errMissionFailed
	}

	printStatus("✓", fmt.Sprintf("Mission %q is valid (%s mode)", m.Label, mode), color.FgGreen)
	fmt.Printf("  Subtasks:     %d\n", len(m.Subtasks))
	fmt.Printf("  Spawn budget: %d\n", m.SpawnBudget)
	fmt.Printf("  Cleanup:      %s\n", m.CleanupPolicy)
	fmt.Println()
	for _, st := range m.Subtasks {
		deps := "-"
		if len(st.DependsOn) > 0 {
			deps = strings.Join(st.DependsOn, ", ")
		}
		fmt.Printf("  %-16s %-14s after: %s\n", st.ID, st.AgentID, deps)
	}
	return nil
}
