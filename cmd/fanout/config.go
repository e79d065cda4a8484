package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/fanout/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show the effective configuration",
	Long: `Display the configuration after merging defaults, the user config,
.fanout.yaml and FANOUT_* environment variables.

Without arguments, displays every value.
With one argument (key), displays the value for that key.

Configuration is stored at ~/.config/fanout/config.yaml
Project-specific overrides can be placed in .fanout.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			displayAllConfig(cfg)
			return nil
		}
		value, err := getConfigValue(cfg, args[0])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default user config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetUserConfigPath()
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		printStatus("✓", "Wrote "+path, color.FgGreen)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config files in use",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("user:    %s\n", config.GetUserConfigPath())
		project := config.GetProjectConfigPath()
		if project == "" {
			project = "(none)"
		}
		fmt.Printf("project: %s\n", project)
		if configPath != "" {
			fmt.Printf("flag:    %s\n", configPath)
		}
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// configValues flattens cfg into dot-notation keys.
func configValues(c *config.Config) map[string]string {
	apiKey, _ := config.GetAPIKey(c)
	values := map[string]string{
		"anthropic.api_key":     config.MaskAPIKey(apiKey),
		"anthropic.key_source":  string(config.GetAPIKeySource(c)),
		"anthropic.base_url":    c.Anthropic.BaseURL,
		"anthropic.use_bedrock": strconv.FormatBool(c.Anthropic.UseBedrock),
		"anthropic.aws_region":  c.Anthropic.AWSRegion,
		"anthropic.aws_profile": c.Anthropic.AWSProfile,

		"requester.session_key": c.Requester.SessionKey,
		"requester.identity":    c.Requester.Identity,
		"requester.display_key": c.Requester.DisplayKey,
		"requester.channel":     c.Requester.Channel,
		"requester.account":     c.Requester.Account,
		"requester.thread":      c.Requester.Thread,

		"delegation.allow_agents": strings.Join(c.Delegation.AllowAgents, ","),
		"delegation.policy_file":  c.Delegation.PolicyFile,

		"gate.max_concurrent": strconv.Itoa(c.Gate.MaxConcurrent),
		"gate.lane":           c.Gate.Lane,
		"gate.lanes":          formatLanes(c.Gate.Lanes),

		"mission.timeout":          c.Mission.Timeout.String(),
		"mission.default_cleanup":  c.Mission.DefaultCleanup,
		"mission.drain_timeout":    c.Mission.DrainTimeout.String(),
		"mission.reap_concurrency": strconv.Itoa(c.Mission.ReapConcurrency),
		"mission.retain_finished":  strconv.Itoa(c.Mission.RetainFinished),

		"worker.model":       c.Worker.Model,
		"worker.max_tokens":  strconv.Itoa(c.Worker.MaxTokens),
		"worker.timeout":     c.Worker.Timeout.String(),
		"worker.max_retries": strconv.Itoa(c.Worker.MaxRetries),

		"delivery.websocket_url": c.Delivery.WebSocketURL,
		"delivery.timeout":       c.Delivery.Timeout.String(),

		"state.enabled": strconv.FormatBool(c.State.Enabled),
		"state.path":    c.State.Path,
		"state.driver":  c.State.Driver,

		"log.level": c.Log.Level,
		"log.file":  c.Log.File,
		"log.json":  strconv.FormatBool(c.Log.JSON),

		"signals.enabled":       strconv.FormatBool(c.Signals.Enabled),
		"signals.dir":           c.Signals.Dir,
		"signals.poll_interval": c.Signals.PollInterval.String(),

		"report.max_summary_chars": strconv.Itoa(c.Report.MaxSummaryChars),
		"tui.refresh_rate":         c.TUI.RefreshRate.String(),
	}
	for agent, model := range c.Worker.AgentModels {
		values["worker.agent_models."+agent] = model
	}
	return values
}

func formatLanes(lanes map[string]int) string {
	parts := make([]string, 0, len(lanes))
	for name, limit := range lanes {
		parts = append(parts, fmt.Sprintf("%s=%d", name, limit))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// displayAllConfig prints all configuration values.
func displayAllConfig(c *config.Config) {
	values := configValues(c)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s: %s\n", k, values[k])
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(c *config.Config, key string) (string, error) {
	value, ok := configValues(c)[strings.ToLower(key)]
	if !ok {
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
	return value, nil
}
