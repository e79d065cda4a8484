package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/fanout/pkg/models"
)

// DefaultMaxSummaryChars bounds each subtask excerpt in the rendered report.
const DefaultMaxSummaryChars = 600

// Synthesize builds the mission report from a closing mission. Entries
// follow descriptor order. maxSummaryChars <= 0 disables truncation.
func Synthesize(m *models.Mission, maxSummaryChars int) *models.MissionReport {
	entries := make([]models.ReportEntry, 0, len(m.Subtasks))
	for _, st := range m.Subtasks {
		summary := ""
		if st.Outcome != nil {
			summary = st.Outcome.Summary()
		}
		entries = append(entries, models.ReportEntry{
			SubtaskID: st.ID,
			AgentID:   st.AgentID,
			Outcome:   st.State,
			Summary:   summary,
		})
	}

	report := &models.MissionReport{
		MissionID: m.ID,
		Label:     m.Label,
		Entries:   entries,
		Outcome:   missionOutcome(entries),
		ClosedAt:  time.Now(),
	}
	report.Text = renderReport(report, maxSummaryChars)
	return report
}

// missionOutcome folds subtask states into the overall outcome.
func missionOutcome(entries []models.ReportEntry) models.MissionOutcome {
	succeeded := 0
	for _, e := range entries {
		if e.Outcome == models.SubtaskSucceeded {
			succeeded++
		}
	}
	switch succeeded {
	case len(entries):
		return models.OutcomeAllSucceeded
	case 0:
		return models.OutcomeAllFailed
	default:
		return models.OutcomePartialFailure
	}
}

func renderReport(r *models.MissionReport, maxChars int) string {
	succeeded := 0
	for _, e := range r.Entries {
		if e.Outcome == models.SubtaskSucceeded {
			succeeded++
		}
	}

	var b strings.Builder
	label := r.Label
	if label == "" {
		label = r.MissionID
	}
	fmt.Fprintf(&b, "Mission %q finished: %s (%d/%d succeeded)\n", label, r.Outcome, succeeded, len(r.Entries))
	for i, e := range r.Entries {
		fmt.Fprintf(&b, "\n%d. %s [%s] %s", i+1, e.SubtaskID, e.AgentID, e.Outcome)
		if excerpt := truncate(flatten(e.Summary), maxChars); excerpt != "" {
			b.WriteString(": ")
			b.WriteString(excerpt)
		}
	}
	return b.String()
}

// flatten collapses whitespace runs so each entry stays on one line.
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
