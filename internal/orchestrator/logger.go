package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
)

// LoggerOptions configures NewLogger.
type LoggerOptions struct {
	Name  string
	Level string
	// File, when set, receives all output instead of Output.
	// Parent directories are created.
	File   string
	Output io.Writer
	JSON   bool
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds the structured logger shared by orchestrator components.
// The returned closer releases the log file, if one was opened.
func NewLogger(opts LoggerOptions) (hclog.Logger, io.Closer, error) {
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		output = f
		closer = f
	}

	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	name := opts.Name
	if name == "" {
		name = "fanout"
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      level,
		Output:     output,
		JSONFormat: opts.JSON,
	}), closer, nil
}
