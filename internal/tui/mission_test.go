package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/fanout/internal/orchestrator"
	"github.com/ShayCichocki/fanout/pkg/models"
)

func testMission() *models.Mission {
	return &models.Mission{
		ID:    "m1",
		Label: "research",
		State: models.MissionOpen,
		Subtasks: []*models.Subtask{
			{ID: "gather", AgentID: "researcher", State: models.SubtaskPending},
			{ID: "write", AgentID: "writer", State: models.SubtaskPending, DependsOn: []string{"gather"}},
		},
	}
}

func event(typ orchestrator.EventType, subtask, message string) MissionEventMsg {
	return MissionEventMsg{Event: orchestrator.OrchestratorEvent{
		Type:      typ,
		MissionID: "m1",
		SubtaskID: subtask,
		Message:   message,
		Timestamp: time.Now(),
	}}
}

func send(app *MissionApp, msgs ...tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	for _, msg := range msgs {
		_, cmd = app.Update(msg)
	}
	return cmd
}

func TestNewMissionApp_SeedsRowsInOrder(t *testing.T) {
	app := NewMissionApp(testMission())

	rows := app.Rows()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].ID != "gather" || rows[1].ID != "write" {
		t.Errorf("unexpected row order: %s, %s", rows[0].ID, rows[1].ID)
	}
	if rows[1].AgentID != "writer" {
		t.Errorf("expected agent writer, got %q", rows[1].AgentID)
	}
	if c := app.Counts(); c.Waiting != 2 {
		t.Errorf("expected 2 waiting, got %+v", c)
	}
}

func TestMissionApp_AppliesEvents(t *testing.T) {
	app := NewMissionApp(testMission())

	send(app,
		event(orchestrator.EventSubtaskQueued, "gather", ""),
		event(orchestrator.EventSubtaskBlocked, "write", ""),
		event(orchestrator.EventSubtaskStarted, "gather", ""),
	)
	if c := app.Counts(); c.Running != 1 || c.Waiting != 1 {
		t.Fatalf("unexpected counts after start: %+v", c)
	}

	send(app,
		event(orchestrator.EventSubtaskFailed, "gather", "worker_failure: boom"),
		event(orchestrator.EventSubtaskSkipped, "write", "dependency_failed: dependency gather failed"),
		event(orchestrator.EventMissionClosing, "", ""),
	)

	rows := app.Rows()
	if rows[0].State != models.SubtaskFailed || rows[0].Detail != "worker_failure: boom" {
		t.Errorf("gather row = %+v", rows[0])
	}
	if rows[1].State != models.SubtaskSkipped {
		t.Errorf("write row = %+v", rows[1])
	}
	if app.State() != models.MissionClosing {
		t.Errorf("expected closing, got %s", app.State())
	}
	c := app.Counts()
	if c.Terminal() != 2 || c.Failed != 1 || c.Skipped != 1 {
		t.Errorf("unexpected counts: %+v", c)
	}
}

func TestMissionApp_IgnoresOtherMissions(t *testing.T) {
	app := NewMissionApp(testMission())

	other := event(orchestrator.EventSubtaskStarted, "gather", "")
	other.Event.MissionID = "m2"
	send(app, other)

	if rows := app.Rows(); rows[0].State != models.SubtaskPending {
		t.Errorf("event for another mission changed state: %+v", rows[0])
	}
}

func TestMissionApp_UnknownSubtaskAddsRow(t *testing.T) {
	app := NewMissionApp(nil)

	send(app, event(orchestrator.EventSubtaskStarted, "late", ""))

	rows := app.Rows()
	if len(rows) != 1 || rows[0].ID != "late" || rows[0].State != models.SubtaskRunning {
		t.Errorf("unexpected rows: %+v", rows)
	}
}

func TestMissionApp_Done(t *testing.T) {
	app := NewMissionApp(testMission())

	report := &models.MissionReport{
		MissionID: "m1",
		Outcome:   models.OutcomeAllSucceeded,
		Text:      "Mission \"research\" finished: AllSucceeded (2/2 succeeded)",
	}
	send(app, MissionDoneMsg{Report: report})

	if !app.Done() {
		t.Fatal("expected done")
	}
	view := app.View()
	if !strings.Contains(view, "AllSucceeded (2/2 succeeded)") {
		t.Errorf("view missing report text:\n%s", view)
	}
	if !strings.Contains(view, "Mission complete") {
		t.Errorf("view missing completion footer:\n%s", view)
	}
}

func TestMissionApp_DoneWithError(t *testing.T) {
	app := NewMissionApp(testMission())
	send(app, MissionDoneMsg{Err: errors.New("wait interrupted")})

	if view := app.View(); !strings.Contains(view, "Error: wait interrupted") {
		t.Errorf("view missing error:\n%s", view)
	}
}

func TestMissionApp_Cancel(t *testing.T) {
	app := NewMissionApp(testMission())

	var reasons []string
	app.SetCancelHandler(func(reason string) error {
		reasons = append(reasons, reason)
		return nil
	})

	cmd := send(app, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	if cmd == nil {
		t.Fatal("expected a cancel command")
	}
	// A second press while the first is in flight does nothing.
	if again := send(app, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")}); again != nil {
		t.Error("expected no command for a repeated cancel")
	}

	send(app, cmd())
	if len(reasons) != 1 || reasons[0] != "cancelled from terminal" {
		t.Errorf("unexpected cancel calls: %v", reasons)
	}
	if !strings.Contains(app.View(), "Cancelling") {
		t.Error("view should show the pending cancel")
	}
}

func TestMissionApp_CancelFailureAllowsRetry(t *testing.T) {
	app := NewMissionApp(testMission())
	app.SetCancelHandler(func(string) error { return orchestrator.ErrMissionNotFound })

	cmd := send(app, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	send(app, cmd())

	if !strings.Contains(app.View(), "cancel failed") {
		t.Error("view should log the failed cancel")
	}
	if retry := send(app, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")}); retry == nil {
		t.Error("expected cancel to be retryable after a failure")
	}
}

func TestMissionApp_Quit(t *testing.T) {
	app := NewMissionApp(testMission())

	cmd := send(app, tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if !strings.Contains(app.View(), "Detached") {
		t.Error("expected detach message")
	}
}

func TestRenderProgressBar(t *testing.T) {
	app := NewMissionApp(nil)

	tests := []struct {
		pct  float64
		want string
	}{
		{0, "0%"},
		{50, "50%"},
		{150, "100%"},
		{-5, "0%"},
	}
	for _, tt := range tests {
		if got := app.renderProgressBar(tt.pct, 10); !strings.HasSuffix(got, tt.want) {
			t.Errorf("renderProgressBar(%v) = %q, want suffix %q", tt.pct, got, tt.want)
		}
	}
}

func TestForward(t *testing.T) {
	events := make(chan orchestrator.OrchestratorEvent, 3)
	events <- orchestrator.OrchestratorEvent{Type: orchestrator.EventSubtaskStarted, MissionID: "m1", SubtaskID: "a"}
	events <- orchestrator.OrchestratorEvent{Type: orchestrator.EventSubtaskStarted, MissionID: "m2", SubtaskID: "b"}
	events <- orchestrator.OrchestratorEvent{Type: orchestrator.EventSubtaskSucceeded, MissionID: "m1", SubtaskID: "a"}
	close(events)

	var got []string
	Forward(events, "m1", func(msg tea.Msg) {
		got = append(got, msg.(MissionEventMsg).Event.SubtaskID)
	})

	if strings.Join(got, ",") != "a,a" {
		t.Errorf("forwarded %v, want [a a]", got)
	}
}
