// Package tool exposes mission submission as JSON tools callable by a
// requesting agent.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/ShayCichocki/fanout/internal/orchestrator"
	"github.com/ShayCichocki/fanout/internal/validate"
	"github.com/ShayCichocki/fanout/pkg/models"
)

// Tool names.
const (
	NameMission           = "mission"
	NameMissionSequential = "mission_sequential"
	NameMissionParallel   = "mission_parallel"
)

// Output statuses.
const (
	StatusAccepted  = "accepted"
	StatusError     = "error"
	StatusForbidden = "forbidden"
)

// Tool defines the interface for requester-facing tools
type Tool interface {
	// ToolName returns the name of the tool
	ToolName() string

	// ToolDescription returns a description of what the tool does
	ToolDescription() string

	// ToolPayloadSchema returns the JSON schema for the tool's input parameters
	ToolPayloadSchema() Schema

	// Call executes the tool on behalf of requester and returns a JSON response
	Call(ctx context.Context, requester models.Requester, params string) string
}

// Submitter accepts missions. *orchestrator.Orchestrator implements it.
type Submitter interface {
	Submit(ctx context.Context, req validate.Request) (orchestrator.Accepted, error)
}

// Input is the mission payload shared by the three tools and mission files.
type Input struct {
	Label          string                 `json:"label" yaml:"label"`
	Subtasks       []validate.SubtaskSpec `json:"subtasks" yaml:"subtasks"`
	Cleanup        models.CleanupPolicy   `json:"cleanup,omitempty" yaml:"cleanup,omitempty"`
	MaxTotalSpawns int                    `json:"maxTotalSpawns,omitempty" yaml:"maxTotalSpawns,omitempty"`
}

// Request converts the input into a submission for requester.
func (in Input) Request(requester models.Requester, mode validate.Mode) validate.Request {
	return validate.Request{
		Label:          in.Label,
		Subtasks:       in.Subtasks,
		Cleanup:        in.Cleanup,
		MaxTotalSpawns: in.MaxTotalSpawns,
		Requester:      requester,
		Mode:           mode,
	}
}

// Output is the immediate answer to a tool call. The mission report
// arrives later through delivery.
type Output struct {
	Status       string `json:"status"`
	MissionID    string `json:"missionId,omitempty"`
	SubtaskCount int    `json:"subtaskCount,omitempty"`
	Label        string `json:"label,omitempty"`
	Error        string `json:"error,omitempty"`
}

// AcceptedOutput builds the success output.
func AcceptedOutput(a orchestrator.Accepted) Output {
	return Output{Status: StatusAccepted, MissionID: a.MissionID, SubtaskCount: a.SubtaskCount, Label: a.Label}
}

// ErrorOutput maps a submission error to its output. Delegation denials
// are reported as forbidden, everything else as error.
func ErrorOutput(err error) Output {
	if validate.IsForbidden(err) {
		return Output{Status: StatusForbidden, Error: err.Error()}
	}
	return Output{Status: StatusError, Error: err.Error()}
}

func (o Output) String() string {
	b, _ := json.Marshal(o)
	return string(b)
}

// MissionTool submits a mission in one submission mode.
type MissionTool struct {
	name        string
	description string
	mode        validate.Mode
	submitter   Submitter
}

// NewMissionTool creates the graph-mode tool.
func NewMissionTool(s Submitter) *MissionTool {
	return &MissionTool{
		name: NameMission,
		description: "Delegate a mission of subtasks to worker agents. Subtasks may declare after to wait on others; " +
			"with no after anywhere they run one after another. Returns immediately; the report is announced when every subtask has finished.",
		mode:      validate.ModeGraph,
		submitter: s,
	}
}

// NewSequentialTool creates the tool that always runs subtasks in order.
func NewSequentialTool(s Submitter) *MissionTool {
	return &MissionTool{
		name: NameMissionSequential,
		description: "Delegate subtasks that run strictly one after another, each seeing the results of the previous one. " +
			"Returns immediately; the report is announced when the chain has finished.",
		mode:      validate.ModeSequential,
		submitter: s,
	}
}

// NewParallelTool creates the tool that runs every subtask independently.
func NewParallelTool(s Submitter) *MissionTool {
	return &MissionTool{
		name: NameMissionParallel,
		description: "Delegate independent subtasks that all run at once. " +
			"Returns immediately; the report is announced when every subtask has finished.",
		mode:      validate.ModeParallel,
		submitter: s,
	}
}

func (t *MissionTool) ToolName() string {
	return t.name
}

func (t *MissionTool) ToolDescription() string {
	return t.description
}

func (t *MissionTool) ToolPayloadSchema() Schema {
	return missionSchema(t.mode == validate.ModeGraph)
}

// Mode returns the submission mode the tool uses.
func (t *MissionTool) Mode() validate.Mode {
	return t.mode
}

func (t *MissionTool) Call(ctx context.Context, requester models.Requester, params string) string {
	return t.Invoke(ctx, requester, params).String()
}

// Invoke is Call without the final encoding.
func (t *MissionTool) Invoke(ctx context.Context, requester models.Requester, params string) Output {
	var in Input
	if err := json.Unmarshal([]byte(params), &in); err != nil {
		return Output{Status: StatusError, Error: "invalid parameters: " + err.Error()}
	}

	accepted, err := t.submitter.Submit(ctx, in.Request(requester, t.mode))
	if err != nil {
		return ErrorOutput(err)
	}
	return AcceptedOutput(accepted)
}

// ErrUnknownTool is returned by Registry.Call for unregistered names.
var ErrUnknownTool = errors.New("unknown tool")

// Registry looks tools up by name.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry registers the three mission tools backed by s.
func NewRegistry(s Submitter) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range []Tool{NewMissionTool(s), NewSequentialTool(s), NewParallelTool(s)} {
		r.tools[t.ToolName()] = t
	}
	return r
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes the named tool.
func (r *Registry) Call(ctx context.Context, name string, requester models.Requester, params string) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t.Call(ctx, requester, params), nil
}
