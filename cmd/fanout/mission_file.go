package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/fanout/internal/tool"
	"github.com/ShayCichocki/fanout/internal/validate"
)

// loadMissionFile reads a mission description. "-" reads stdin.
func loadMissionFile(path string) (tool.Input, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return tool.Input{}, fmt.Errorf("read mission file: %w", err)
	}
	return parseMission(data)
}

// parseMission decodes YAML (and therefore JSON) mission input. Unknown
// fields are rejected so typos such as "agent" for "agentId" surface early.
func parseMission(data []byte) (tool.Input, error) {
	var in tool.Input
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&in); err != nil {
		if err == io.EOF {
			return tool.Input{}, fmt.Errorf("mission file is empty")
		}
		return tool.Input{}, fmt.Errorf("parse mission file: %w", err)
	}
	return in, nil
}

// parseMode maps the --mode flag onto a submission mode.
func parseMode(s string) (validate.Mode, error) {
	m := validate.Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("invalid mode %q: must be graph, sequential or parallel", s)
	}
	return m, nil
}

// toolNameFor returns the tool that submits in mode.
func toolNameFor(mode validate.Mode) string {
	switch mode {
	case validate.ModeSequential:
		return tool.NameMissionSequential
	case validate.ModeParallel:
		return tool.NameMissionParallel
	default:
		return tool.NameMission
	}
}
