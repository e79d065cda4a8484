package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/fanout/internal/config"
)

var (
	configPath string
	logLevel   string

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

// errMissionFailed makes the process exit non-zero without printing usage.
var errMissionFailed = errors.New("mission did not fully succeed")

var rootCmd = &cobra.Command{
	Use:   "fanout",
	Short: "Delegate missions to parallel worker agents",
	Long: `fanout splits a mission into subtasks, runs each on a worker agent in
its own session, honours dependencies between subtasks and announces a
single report once every subtask has finished.

Missions are described in YAML:

  label: research
  subtasks:
    - id: gather
      agentId: researcher
      task: Collect sources on the topic
    - id: write
      agentId: writer
      task: Write a summary
      after: [gather]

Configuration is read from ~/.config/fanout/config.yaml, then .fanout.yaml
in the current directory or a parent, then FANOUT_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.LoadFromPath(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errMissionFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default is the XDG user config merged with .fanout.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(versionCmd)
}
