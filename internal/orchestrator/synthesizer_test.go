package orchestrator

import (
	"strings"
	"testing"

	"github.com/ShayCichocki/fanout/pkg/models"
)

func closedMission(subtasks ...*models.Subtask) *models.Mission {
	return &models.Mission{ID: "m1", Label: "research", State: models.MissionClosing, Subtasks: subtasks}
}

func TestSynthesizeOutcome(t *testing.T) {
	tests := []struct {
		name   string
		states []models.SubtaskState
		want   models.MissionOutcome
	}{
		{"all succeeded", []models.SubtaskState{models.SubtaskSucceeded, models.SubtaskSucceeded}, models.OutcomeAllSucceeded},
		{"one failed", []models.SubtaskState{models.SubtaskSucceeded, models.SubtaskFailed}, models.OutcomePartialFailure},
		{"one skipped", []models.SubtaskState{models.SubtaskSkipped, models.SubtaskSucceeded}, models.OutcomePartialFailure},
		{"none succeeded", []models.SubtaskState{models.SubtaskFailed, models.SubtaskSkipped}, models.OutcomeAllFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var subtasks []*models.Subtask
			for i, state := range tt.states {
				subtasks = append(subtasks, testSubtask(string(rune('a'+i)), state))
			}
			report := Synthesize(closedMission(subtasks...), DefaultMaxSummaryChars)
			if report.Outcome != tt.want {
				t.Errorf("Outcome = %s, want %s", report.Outcome, tt.want)
			}
		})
	}
}

func TestSynthesizeRendersDescriptorOrder(t *testing.T) {
	m := closedMission(
		testSubtask("write", models.SubtaskFailed),
		testSubtask("gather", models.SubtaskSucceeded),
	)
	report := Synthesize(m, DefaultMaxSummaryChars)

	want := "Mission \"research\" finished: PartialFailure (1/2 succeeded)\n" +
		"\n1. write [x] failed: worker_failure: broken" +
		"\n2. gather [x] succeeded: out-gather"
	if report.Text != want {
		t.Errorf("Text =\n%s\nwant\n%s", report.Text, want)
	}
	if report.Entries[0].SubtaskID != "write" || report.Entries[1].SubtaskID != "gather" {
		t.Errorf("entries out of order: %+v", report.Entries)
	}
	if report.MissionID != "m1" || report.Label != "research" {
		t.Errorf("report identity = %s/%s", report.MissionID, report.Label)
	}
}

func TestSynthesizeTruncatesExcerpts(t *testing.T) {
	st := testSubtask("a", models.SubtaskSucceeded)
	st.Outcome = models.Success{Result: "héllo\n\n   wörld and more"}
	report := Synthesize(closedMission(st), 10)

	if !strings.HasSuffix(report.Text, "a [x] succeeded: héllo wörl…") {
		t.Errorf("Text = %q", report.Text)
	}
	// The entry keeps the full summary.
	if report.Entries[0].Summary != "héllo\n\n   wörld and more" {
		t.Errorf("Summary = %q", report.Entries[0].Summary)
	}
}

func TestSynthesizeFallsBackToMissionID(t *testing.T) {
	m := closedMission(testSubtask("a", models.SubtaskSucceeded))
	m.Label = ""
	report := Synthesize(m, 0)
	if !strings.HasPrefix(report.Text, `Mission "m1" finished`) {
		t.Errorf("Text = %q", report.Text)
	}
}
