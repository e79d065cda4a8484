package main

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/fanout/internal/tui"
	"github.com/ShayCichocki/fanout/pkg/models"
)

type waitResult struct {
	report *models.MissionReport
	err    error
}

// watchMission shows the live view until the user leaves it, then keeps
// waiting for the report if the mission is still running.
func watchMission(a *app, snapshot *models.Mission) (*models.MissionReport, error) {
	missionID := snapshot.ID
	program, view := tui.NewMissionProgram(snapshot)
	view.SetCancelHandler(func(reason string) error {
		return a.orch.Cancel(missionID, reason)
	})

	go tui.Forward(a.emitter.Events(), missionID, program.Send)

	resultCh := make(chan waitResult, 1)
	go func() {
		report, err := a.orch.Wait(context.Background(), missionID)
		program.Send(tui.MissionDoneMsg{Report: report, Err: err})
		resultCh <- waitResult{report: report, err: err}
	}()

	if _, err := program.Run(); err != nil {
		return nil, fmt.Errorf("run progress view: %w", err)
	}

	if !view.Done() {
		fmt.Printf("Waiting for mission %s to finish (Ctrl+C cancels it)...\n", missionID)
	}
	res := <-resultCh
	return res.report, res.err
}
