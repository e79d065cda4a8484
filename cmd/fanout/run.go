package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/fanout/internal/tool"
	"github.com/ShayCichocki/fanout/pkg/models"
)

var (
	runMode  string
	runWatch bool
	runJSON  bool
)

var runCmd = &cobra.Command{
	Use:   "run <mission.yaml>",
	Short: "Submit a mission and wait for its report",
	Long: `Submit the mission described in a YAML file ("-" reads stdin) and wait
until every subtask has finished, then print the report.

Submission modes (--mode):
  graph       Honour "after"; with no "after" anywhere, subtasks run in order (default)
  sequential  Always run subtasks in file order, each seeing earlier results
  parallel    Run every subtask independently; "after" is ignored

Interrupting the command cancels the mission: unfinished subtasks are
skipped and the report is still printed. From another terminal use
'fanout cancel <missionId>'.

Examples:
  fanout run research.yaml
  fanout run research.yaml --mode parallel
  fanout run research.yaml --watch      # Live progress view
  fanout run research.yaml --json       # Machine-readable output`,
	Args: cobra.ExactArgs(1),
	RunE: runMission,
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "graph", "Submission mode: graph, sequential, or parallel")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Show a live progress view")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the tool response and report as JSON")
}

func runMission(cmd *cobra.Command, args []string) error {
	if runWatch && runJSON {
		return fmt.Errorf("--watch and --json are mutually exclusive")
	}
	if runWatch && !stderrIsTerminal() {
		printStatus("⚠", "--watch needs a terminal, falling back to plain output", color.FgYellow)
		runWatch = false
	}

	in, err := loadMissionFile(args[0])
	if err != nil {
		return err
	}
	mode, err := parseMode(runMode)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, appOptions{events: runWatch, quietLogs: runWatch || runJSON})
	if err != nil {
		return err
	}
	defer a.Close()

	params, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode mission: %w", err)
	}

	// Submit through the same tool surface requesting agents use.
	ctx := context.Background()
	raw, err := tool.NewRegistry(a.orch).Call(ctx, toolNameFor(mode), cfg.RequesterModel(), string(params))
	if err != nil {
		return err
	}
	var out tool.Output
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return fmt.Errorf("decode tool response: %w", err)
	}

	if runJSON {
		fmt.Println(raw)
	}
	if out.Status != tool.StatusAccepted {
		if !runJSON {
			printStatus("✗", fmt.Sprintf("Mission rejected (%s): %s", out.Status, out.Error), color.FgRed)
		}
		return errMissionFailed
	}
	if !runJSON && !runWatch {
		printStatus("✓", fmt.Sprintf("Mission %s accepted: %d subtask(s), label %q", out.MissionID, out.SubtaskCount, out.Label), color.FgGreen)
	}

	snapshot, err := a.orch.Get(out.MissionID)
	if err != nil {
		return err
	}
	if a.db != nil {
		if err := a.db.SaveMission(ctx, snapshot); err != nil {
			a.logger.Warn("cannot record mission", "mission", out.MissionID, "error", err)
		}
	}

	stopInterrupts := cancelOnInterrupt(a, out.MissionID)
	defer stopInterrupts()

	var report *models.MissionReport
	if runWatch {
		report, err = watchMission(a, snapshot)
	} else {
		report, err = a.orch.Wait(ctx, out.MissionID)
	}
	if err != nil {
		return fmt.Errorf("wait for mission %s: %w", out.MissionID, err)
	}

	if a.db != nil {
		saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.db.SaveReport(saveCtx, report); err != nil {
			a.logger.Warn("cannot record report", "mission", out.MissionID, "error", err)
		}
		cancel()
	}

	if err := printReport(report, runJSON); err != nil {
		return err
	}
	if !runJSON && a.runtime != nil {
		inTok, outTok := a.runtime.Tracker().Total()
		fmt.Printf("\nTokens: %d in, %d out over %d call(s)\n", inTok, outTok, a.runtime.Tracker().Calls())
	}
	if report.Outcome != models.OutcomeAllSucceeded {
		return errMissionFailed
	}
	return nil
}

// cancelOnInterrupt cancels the mission on SIGINT or SIGTERM. The mission
// still closes normally so the report is printed.
func cancelOnInterrupt(a *app, missionID string) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(os.Stderr, "\nReceived %s, cancelling mission %s...\n", sig, missionID)
			if err := a.orch.Cancel(missionID, "interrupted by "+sig.String()); err != nil {
				a.logger.Warn("cancel on interrupt failed", "mission", missionID, "error", err)
			}
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// printReport writes the final report to stdout.
func printReport(r *models.MissionReport, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println()
	fmt.Println(outcomeColor(r.Outcome).Sprintf("%s", r.Outcome))
	fmt.Println(r.Text)
	return nil
}

// outcomeColor picks the colour used for an outcome.
func outcomeColor(o models.MissionOutcome) *color.Color {
	switch o {
	case models.OutcomeAllSucceeded:
		return color.New(color.FgGreen, color.Bold)
	case models.OutcomePartialFailure:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}
