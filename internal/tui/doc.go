// Package tui provides the terminal user interface for fanout's run command.
//
// The TUI is read-only apart from cancellation. It shows one mission:
//   - Each subtask in declaration order with its agent and state
//   - A progress bar over terminal subtasks
//   - Activity log with recent transitions
//   - The final report once the mission closes
//
// Usage:
//
//	program, app := tui.NewMissionProgram(snapshot)
//	app.SetCancelHandler(func(reason string) error {
//	    return orch.Cancel(snapshot.ID, reason)
//	})
//	go tui.Forward(emitter.Events(), snapshot.ID, program.Send)
//	go program.Run()
//
//	// Signal completion
//	program.Send(tui.MissionDoneMsg{Report: report})
//
// Press c to cancel the mission and q or Ctrl+C to leave the view.
package tui
