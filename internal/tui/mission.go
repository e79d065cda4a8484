package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/fanout/internal/orchestrator"
	"github.com/ShayCichocki/fanout/pkg/models"
)

// maxLogEntries bounds the activity log kept in memory.
const maxLogEntries = 200

// visibleLogEntries is how many log lines are rendered.
const visibleLogEntries = 8

// SubtaskRow is one subtask as displayed.
type SubtaskRow struct {
	ID        string
	AgentID   string
	State     models.SubtaskState
	Detail    string
	StartedAt time.Time
	EndedAt   time.Time
}

// Counts tallies rows by display bucket.
type Counts struct {
	Waiting   int
	Running   int
	Succeeded int
	Failed    int
	Skipped   int
}

// Terminal returns the number of finished subtasks.
func (c Counts) Terminal() int {
	return c.Succeeded + c.Failed + c.Skipped
}

// MissionEventMsg wraps an orchestrator event for the TUI.
type MissionEventMsg struct {
	Event orchestrator.OrchestratorEvent
}

// MissionDoneMsg is sent once the report has been delivered.
type MissionDoneMsg struct {
	Report *models.MissionReport
	Err    error
}

// cancelResultMsg carries the result of a cancel request.
type cancelResultMsg struct {
	err error
}

// MissionLogEntry represents a line in the activity log.
type MissionLogEntry struct {
	Timestamp time.Time
	Subtask   string
	Message   string
	Failed    bool
}

// CancelHandler is called off the UI goroutine when the user presses c.
type CancelHandler func(reason string) error

// MissionApp is the bubbletea model for a single running mission.
type MissionApp struct {
	missionID string
	label     string
	state     models.MissionState

	rows  []*SubtaskRow
	index map[string]*SubtaskRow
	logs  []MissionLogEntry

	spinner spinner.Model
	width   int
	height  int

	quitting        bool
	done            bool
	cancelRequested bool
	report          *models.MissionReport
	err             error
	cancelHandler   CancelHandler

	// Styles
	headerStyle   lipgloss.Style
	labelStyle    lipgloss.Style
	idStyle       lipgloss.Style
	agentStyle    lipgloss.Style
	detailStyle   lipgloss.Style
	progressFull  lipgloss.Style
	progressEmpty lipgloss.Style
	logTimeStyle  lipgloss.Style
	logStyle      lipgloss.Style
	errorStyle    lipgloss.Style
	doneStyle     lipgloss.Style
	hintStyle     lipgloss.Style
	reportStyle   lipgloss.Style
	stateStyles   map[models.SubtaskState]lipgloss.Style
}

// NewMissionApp creates a MissionApp seeded from a mission snapshot so
// rows appear in declaration order before any event arrives.
func NewMissionApp(m *models.Mission) *MissionApp {
	a := &MissionApp{
		index:   make(map[string]*SubtaskRow),
		logs:    make([]MissionLogEntry, 0),
		state:   models.MissionOpen,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(12),

		idStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true).
			Width(16),

		agentStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("63")).
			Width(14),

		detailStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),

		progressFull: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		progressEmpty: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		logTimeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		logStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")).
			Bold(true),

		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		reportStyle: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1),

		stateStyles: map[models.SubtaskState]lipgloss.Style{
			models.SubtaskPending:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
			models.SubtaskBlocked:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
			models.SubtaskReady:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
			models.SubtaskRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
			models.SubtaskSucceeded: lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
			models.SubtaskFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
			models.SubtaskSkipped:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		},
	}

	if m != nil {
		a.missionID = m.ID
		a.label = m.Label
		a.state = m.State
		for _, st := range m.Subtasks {
			row := a.row(st.ID)
			row.AgentID = st.AgentID
			row.State = st.State
		}
	}
	return a
}

// SetCancelHandler sets the callback used when the user presses c.
func (a *MissionApp) SetCancelHandler(handler CancelHandler) {
	a.cancelHandler = handler
}

// Init implements tea.Model.
func (a *MissionApp) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update implements tea.Model.
func (a *MissionApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		case "c":
			return a, a.requestCancel()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case spinner.TickMsg:
		if a.done {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case MissionEventMsg:
		a.apply(msg.Event)

	case cancelResultMsg:
		if msg.err != nil {
			a.cancelRequested = false
			a.addLog(MissionLogEntry{
				Timestamp: time.Now(),
				Message:   fmt.Sprintf("cancel failed: %v", msg.err),
				Failed:    true,
			})
		}

	case MissionDoneMsg:
		a.done = true
		a.report = msg.Report
		a.err = msg.Err
		a.state = models.MissionClosed
	}

	return a, nil
}

// requestCancel runs the cancel handler outside Update.
func (a *MissionApp) requestCancel() tea.Cmd {
	if a.cancelHandler == nil || a.done || a.cancelRequested {
		return nil
	}
	a.cancelRequested = true
	a.addLog(MissionLogEntry{Timestamp: time.Now(), Message: "cancel requested"})
	handler := a.cancelHandler
	return func() tea.Msg {
		return cancelResultMsg{err: handler("cancelled from terminal")}
	}
}

// apply folds one orchestrator event into the view.
func (a *MissionApp) apply(ev orchestrator.OrchestratorEvent) {
	if a.missionID == "" {
		a.missionID = ev.MissionID
	}
	if ev.MissionID != a.missionID {
		return
	}

	switch ev.Type {
	case orchestrator.EventMissionAccepted:
		a.state = models.MissionOpen
		a.addLog(MissionLogEntry{Timestamp: ev.Timestamp, Message: "mission accepted"})
		return
	case orchestrator.EventMissionClosing:
		a.state = models.MissionClosing
		a.addLog(MissionLogEntry{Timestamp: ev.Timestamp, Message: "all subtasks finished, delivering report"})
		return
	case orchestrator.EventMissionClosed:
		a.state = models.MissionClosed
		a.addLog(MissionLogEntry{Timestamp: ev.Timestamp, Message: "mission closed: " + ev.Message})
		return
	}

	row := a.row(ev.SubtaskID)
	if ev.AgentID != "" {
		row.AgentID = ev.AgentID
	}

	entry := MissionLogEntry{Timestamp: ev.Timestamp, Subtask: ev.SubtaskID}
	switch ev.Type {
	case orchestrator.EventSubtaskBlocked:
		row.State = models.SubtaskBlocked
		entry.Message = "waiting on dependencies"
	case orchestrator.EventSubtaskQueued:
		row.State = models.SubtaskReady
		entry.Message = "queued"
	case orchestrator.EventSubtaskStarted:
		row.State = models.SubtaskRunning
		row.StartedAt = ev.Timestamp
		entry.Message = "started on " + row.AgentID
	case orchestrator.EventSubtaskSucceeded:
		row.State = models.SubtaskSucceeded
		row.EndedAt = ev.Timestamp
		entry.Message = "succeeded"
	case orchestrator.EventSubtaskFailed:
		row.State = models.SubtaskFailed
		row.EndedAt = ev.Timestamp
		row.Detail = ev.Message
		entry.Message = "failed: " + ev.Message
		entry.Failed = true
	case orchestrator.EventSubtaskSkipped:
		row.State = models.SubtaskSkipped
		row.EndedAt = ev.Timestamp
		row.Detail = ev.Message
		entry.Message = "skipped: " + ev.Message
	default:
		return
	}
	a.addLog(entry)
}

func (a *MissionApp) row(id string) *SubtaskRow {
	if row, ok := a.index[id]; ok {
		return row
	}
	row := &SubtaskRow{ID: id, State: models.SubtaskPending}
	a.rows = append(a.rows, row)
	a.index[id] = row
	return row
}

func (a *MissionApp) addLog(entry MissionLogEntry) {
	a.logs = append(a.logs, entry)
	if len(a.logs) > maxLogEntries {
		a.logs = a.logs[len(a.logs)-maxLogEntries:]
	}
}

// Rows returns the subtask rows in display order.
func (a *MissionApp) Rows() []SubtaskRow {
	out := make([]SubtaskRow, len(a.rows))
	for i, r := range a.rows {
		out[i] = *r
	}
	return out
}

// Counts tallies the current rows.
func (a *MissionApp) Counts() Counts {
	var c Counts
	for _, r := range a.rows {
		switch r.State {
		case models.SubtaskRunning:
			c.Running++
		case models.SubtaskSucceeded:
			c.Succeeded++
		case models.SubtaskFailed:
			c.Failed++
		case models.SubtaskSkipped:
			c.Skipped++
		default:
			c.Waiting++
		}
	}
	return c
}

// State returns the mission state as last observed.
func (a *MissionApp) State() models.MissionState {
	return a.state
}

// Done reports whether the final report has arrived.
func (a *MissionApp) Done() bool {
	return a.done
}

// View implements tea.Model.
func (a *MissionApp) View() string {
	if a.quitting && !a.done {
		return "Detached; the mission keeps running until it closes.\n"
	}

	var b strings.Builder

	title := a.label
	if title == "" {
		title = a.missionID
	}
	b.WriteString(a.headerStyle.Render("=== fanout: " + title + " ==="))
	b.WriteString("\n\n")

	counts := a.Counts()
	b.WriteString(a.labelStyle.Render("Mission:"))
	b.WriteString(a.missionID)
	b.WriteString("  ")
	b.WriteString(a.labelStyle.Render("State:"))
	b.WriteString(string(a.state))
	b.WriteString("\n")
	b.WriteString(a.labelStyle.Render("Subtasks:"))
	b.WriteString(fmt.Sprintf("%d running, %d succeeded, %d failed, %d skipped, %d waiting",
		counts.Running, counts.Succeeded, counts.Failed, counts.Skipped, counts.Waiting))
	b.WriteString("\n")

	pct := float64(0)
	if len(a.rows) > 0 {
		pct = float64(counts.Terminal()) / float64(len(a.rows)) * 100
	}
	b.WriteString(a.renderProgressBar(pct, 30))
	b.WriteString("\n\n")

	for _, r := range a.rows {
		b.WriteString(a.renderRow(r))
		b.WriteString("\n")
	}

	b.WriteString(a.renderLogs())

	if a.done && a.report != nil {
		b.WriteString("\n")
		b.WriteString(a.reportStyle.Render(a.report.Text))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case a.done && a.err != nil:
		b.WriteString(a.errorStyle.Render(fmt.Sprintf("Error: %v", a.err)))
	case a.done && a.report != nil && a.report.Outcome == models.OutcomeAllSucceeded:
		b.WriteString(a.doneStyle.Render("Mission complete. Press q to exit."))
	case a.done:
		b.WriteString(a.errorStyle.Render("Mission finished with failures. Press q to exit."))
	case a.cancelRequested:
		b.WriteString(a.hintStyle.Render("Cancelling... q to detach"))
	default:
		b.WriteString(a.hintStyle.Render("c cancel mission │ q detach"))
	}
	b.WriteString("\n")

	return b.String()
}

func (a *MissionApp) renderRow(r *SubtaskRow) string {
	marker := " "
	switch r.State {
	case models.SubtaskRunning:
		marker = a.spinner.View()
	case models.SubtaskSucceeded:
		marker = "✓"
	case models.SubtaskFailed:
		marker = "✗"
	case models.SubtaskSkipped:
		marker = "-"
	}

	style, ok := a.stateStyles[r.State]
	if !ok {
		style = a.detailStyle
	}
	line := fmt.Sprintf("  %s %s %s %s",
		style.Render(marker),
		a.idStyle.Render(r.ID),
		a.agentStyle.Render(r.AgentID),
		style.Width(10).Render(string(r.State)))

	if !r.StartedAt.IsZero() {
		end := r.EndedAt
		if end.IsZero() {
			end = time.Now()
		}
		line += a.detailStyle.Render(fmt.Sprintf(" %s", end.Sub(r.StartedAt).Round(time.Second)))
	}
	if r.Detail != "" {
		line += " " + a.detailStyle.Render(r.Detail)
	}
	return line
}

func (a *MissionApp) renderProgressBar(pct float64, width int) string {
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}

	filled := int(pct / 100 * float64(width))
	empty := width - filled

	bar := a.progressFull.Render(strings.Repeat("█", filled)) +
		a.progressEmpty.Render(strings.Repeat("░", empty))

	return fmt.Sprintf("  %s %.0f%%", bar, pct)
}

// renderLogs renders the recent log entries.
func (a *MissionApp) renderLogs() string {
	if len(a.logs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("252")).
		Render("Activity Log"))
	b.WriteString("\n")

	start := 0
	if len(a.logs) > visibleLogEntries {
		start = len(a.logs) - visibleLogEntries
	}

	for _, entry := range a.logs[start:] {
		ts := a.logTimeStyle.Render(entry.Timestamp.Format("15:04:05"))
		subtask := lipgloss.NewStyle().
			Foreground(lipgloss.Color("63")).
			Width(16).
			Render(entry.Subtask)
		msgStyle := a.logStyle
		if entry.Failed {
			msgStyle = a.errorStyle
		}
		b.WriteString(fmt.Sprintf("  %s %s %s\n", ts, subtask, msgStyle.Render(entry.Message)))
	}

	return b.String()
}

// NewMissionProgram creates a new Bubbletea program for the mission TUI.
func NewMissionProgram(m *models.Mission) (*tea.Program, *MissionApp) {
	app := NewMissionApp(m)
	p := tea.NewProgram(app, tea.WithAltScreen())
	return p, app
}

// Forward relays events for one mission to send until events is closed.
// Pass program.Send as send.
func Forward(events <-chan orchestrator.OrchestratorEvent, missionID string, send func(tea.Msg)) {
	for ev := range events {
		if missionID != "" && ev.MissionID != missionID {
			continue
		}
		send(MissionEventMsg{Event: ev})
	}
}
