package tool_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ShayCichocki/fanout/internal/delegation"
	"github.com/ShayCichocki/fanout/internal/orchestrator"
	"github.com/ShayCichocki/fanout/internal/session"
	"github.com/ShayCichocki/fanout/internal/tool"
	"github.com/ShayCichocki/fanout/internal/worker"
	"github.com/ShayCichocki/fanout/pkg/models"
)

func decode(raw string) tool.Output {
	var out tool.Output
	Expect(json.Unmarshal([]byte(raw), &out)).To(Succeed())
	return out
}

var _ = Describe("Mission tools", func() {
	var (
		orch      *orchestrator.Orchestrator
		store     *session.MemoryStore
		announced *announcements
		registry  *tool.Registry
		resolver  *delegation.StaticResolver

		mu           sync.Mutex
		instructions map[string]string
		failAgent    string
	)

	BeforeEach(func() {
		store = session.NewMemoryStore()
		announced = &announcements{}
		resolver = delegation.NewStaticResolver()
		resolver.Set("main", "researcher", "writer")
		instructions = map[string]string{}
		failAgent = ""

		runtime := worker.Func(func(ctx context.Context, req worker.Request) (string, error) {
			mu.Lock()
			instructions[req.AgentID] = req.Instruction
			fail := req.AgentID == failAgent
			mu.Unlock()
			if fail {
				return "", errors.New("upstream API unavailable")
			}
			return req.AgentID + " done", nil
		})

		orch = orchestrator.New(orchestrator.RequiredConfig{
			Resolver: resolver,
			Runtime:  runtime,
			Store:    store,
		}, orchestrator.WithDeliverer(announced))
		registry = tool.NewRegistry(orch)
	})

	AfterEach(func() {
		Expect(orch.Stop()).To(Succeed())
	})

	call := func(name, params string) tool.Output {
		raw, err := registry.Call(context.Background(), name, mainRequester, params)
		Expect(err).NotTo(HaveOccurred())
		return decode(raw)
	}

	waitFor := func(missionID string) *models.MissionReport {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		report, err := orch.Wait(ctx, missionID)
		Expect(err).NotTo(HaveOccurred())
		return report
	}

	Describe("registry", func() {
		It("registers the three mission tools", func() {
			Expect(registry.Names()).To(Equal([]string{"mission", "mission_parallel", "mission_sequential"}))
		})

		It("rejects unknown tool names", func() {
			_, err := registry.Call(context.Background(), "missions", mainRequester, "{}")
			Expect(err).To(MatchError(tool.ErrUnknownTool))
		})

		It("only offers after on the graph tool", func() {
			for name, wantAfter := range map[string]bool{"mission": true, "mission_sequential": false, "mission_parallel": false} {
				t, ok := registry.Get(name)
				Expect(ok).To(BeTrue())
				items := t.ToolPayloadSchema().Properties["subtasks"].Items
				Expect(items).NotTo(BeNil())
				_, hasAfter := items.Properties["after"]
				Expect(hasAfter).To(Equal(wantAfter), name)
				Expect(t.ToolPayloadSchema().String()).To(ContainSubstring(`"required":["subtasks"]`))
			}
		})
	})

	Describe("mission", func() {
		It("accepts a chained mission and announces one report", func() {
			out := call(tool.NameMission, `{
				"label": "market scan",
				"subtasks": [
					{"id": "gather", "agentId": "researcher", "task": "collect sources"},
					{"id": "draft", "agentId": "writer", "task": "write the summary"}
				]
			}`)
			Expect(out.Status).To(Equal(tool.StatusAccepted))
			Expect(out.MissionID).NotTo(BeEmpty())
			Expect(out.SubtaskCount).To(Equal(2))
			Expect(out.Label).To(Equal("market scan"))

			report := waitFor(out.MissionID)
			Expect(report.Outcome).To(Equal(models.OutcomeAllSucceeded))
			Expect(announced.all()).To(HaveLen(1))
			Expect(announced.all()[0]).To(ContainSubstring(`Mission "market scan" finished: AllSucceeded (2/2 succeeded)`))

			mu.Lock()
			defer mu.Unlock()
			Expect(instructions["writer"]).To(ContainSubstring("[gather] (researcher):\nresearcher done"))
		})

		It("returns forbidden for agents outside the allow-list", func() {
			out := call(tool.NameMission, `{"label": "x", "subtasks": [{"id": "a", "agentId": "admin", "task": "rm -rf"}]}`)
			Expect(out.Status).To(Equal(tool.StatusForbidden))
			Expect(out.Error).To(ContainSubstring("researcher, writer"))
			Expect(out.MissionID).To(BeEmpty())
			Expect(store.List()).To(BeEmpty())
		})

		It("returns error for dangling dependencies", func() {
			out := call(tool.NameMission, `{"subtasks": [{"id": "a", "agentId": "writer", "task": "t", "after": ["ghost"]}]}`)
			Expect(out.Status).To(Equal(tool.StatusError))
			Expect(out.Error).To(ContainSubstring("ghost"))
		})

		It("returns error for cycles", func() {
			out := call(tool.NameMission, `{"subtasks": [
				{"id": "a", "agentId": "writer", "task": "t", "after": ["b"]},
				{"id": "b", "agentId": "writer", "task": "t", "after": ["a"]}
			]}`)
			Expect(out.Status).To(Equal(tool.StatusError))
			Expect(orch.Count()).To(BeZero())
		})

		It("returns error for malformed JSON", func() {
			out := call(tool.NameMission, `{"subtasks": [`)
			Expect(out.Status).To(Equal(tool.StatusError))
			Expect(out.Error).To(HavePrefix("invalid parameters"))
		})

		It("returns error for an empty mission", func() {
			out := call(tool.NameMission, `{"label": "nothing", "subtasks": []}`)
			Expect(out.Status).To(Equal(tool.StatusError))
		})

		It("skips dependents of a failed subtask and reports a partial failure", func() {
			failAgent = "researcher"
			out := call(tool.NameMission, `{
				"label": "pipeline",
				"cleanup": "delete",
				"subtasks": [
					{"id": "gather", "agentId": "researcher", "task": "collect"},
					{"id": "draft", "agentId": "writer", "task": "write", "after": ["gather"]},
					{"id": "style", "agentId": "writer", "task": "style guide"}
				]
			}`)
			Expect(out.Status).To(Equal(tool.StatusAccepted))

			report := waitFor(out.MissionID)
			Expect(report.Outcome).To(Equal(models.OutcomePartialFailure))
			Expect(report.Entries[1].Outcome).To(Equal(models.SubtaskSkipped))
			Expect(report.Entries[1].Summary).To(HavePrefix("dependency_failed"))
			Expect(store.Count(session.StatusDiscarded)).To(Equal(2))
		})
	})

	Describe("mission_sequential", func() {
		It("chains subtasks and ignores after", func() {
			out := call(tool.NameMissionSequential, `{"subtasks": [
				{"id": "one", "agentId": "researcher", "task": "first"},
				{"id": "two", "agentId": "writer", "task": "second", "after": ["missing"]}
			]}`)
			Expect(out.Status).To(Equal(tool.StatusAccepted))
			waitFor(out.MissionID)

			m, err := orch.Get(out.MissionID)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Subtask("two").DependsOn).To(Equal([]string{"one"}))
		})
	})

	Describe("mission_parallel", func() {
		It("runs subtasks independently and honours the spawn budget", func() {
			out := call(tool.NameMissionParallel, `{
				"maxTotalSpawns": 1,
				"subtasks": [
					{"id": "a", "agentId": "researcher", "task": "x"},
					{"id": "b", "agentId": "researcher", "task": "y"}
				]
			}`)
			Expect(out.Status).To(Equal(tool.StatusAccepted))
			report := waitFor(out.MissionID)

			var skipped int
			for _, e := range report.Entries {
				if e.Outcome == models.SubtaskSkipped {
					skipped++
					Expect(e.Summary).To(HavePrefix("spawn_budget_exhausted"))
				}
			}
			Expect(skipped).To(Equal(1))
			Expect(strings.Count(announced.all()[0], "\n")).To(BeNumerically(">=", 2))
		})
	})
})
