// Package config handles configuration loading and management for fanout.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/fanout/pkg/models"
)

// ProjectConfigName is the per-project override file searched for upward
// from the working directory.
const ProjectConfigName = ".fanout.yaml"

// EnvPrefix prefixes environment overrides, e.g. FANOUT_GATE_MAX_CONCURRENT.
const EnvPrefix = "FANOUT"

// Config holds all configuration for fanout.
type Config struct {
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Requester  RequesterConfig  `mapstructure:"requester"`
	Delegation DelegationConfig `mapstructure:"delegation"`
	Gate       GateConfig       `mapstructure:"gate"`
	Mission    MissionConfig    `mapstructure:"mission"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	State      StateConfig      `mapstructure:"state"`
	Log        LogConfig        `mapstructure:"log"`
	Signals    SignalsConfig    `mapstructure:"signals"`
	Report     ReportConfig     `mapstructure:"report"`
	TUI        TUIConfig        `mapstructure:"tui"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	// UseBedrock routes requests through AWS Bedrock instead of the API.
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// RequesterConfig identifies the CLI user as a requester.
type RequesterConfig struct {
	SessionKey string `mapstructure:"session_key"`
	Identity   string `mapstructure:"identity"`
	DisplayKey string `mapstructure:"display_key"`
	Channel    string `mapstructure:"channel"`
	Account    string `mapstructure:"account"`
	Thread     string `mapstructure:"thread"`
}

// DelegationConfig holds the allow-list settings.
type DelegationConfig struct {
	// AllowAgents applies to every requester; "*" allows any agent.
	AllowAgents []string `mapstructure:"allow_agents"`
	// PolicyFile, when set, replaces AllowAgents with a per-requester policy.
	PolicyFile string `mapstructure:"policy_file"`
}

// GateConfig holds admission gate limits.
type GateConfig struct {
	MaxConcurrent int            `mapstructure:"max_concurrent"`
	Lane          string         `mapstructure:"lane"`
	Lanes         map[string]int `mapstructure:"lanes"`
}

// MissionConfig holds mission lifecycle settings.
type MissionConfig struct {
	// Timeout cancels missions that run longer. Zero disables it.
	Timeout        time.Duration `mapstructure:"timeout"`
	DefaultCleanup string        `mapstructure:"default_cleanup"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`
	ReapConcurrency int          `mapstructure:"reap_concurrency"`
	RetainFinished int           `mapstructure:"retain_finished"`
}

// WorkerConfig holds worker runtime settings.
type WorkerConfig struct {
	Model        string            `mapstructure:"model"`
	AgentModels  map[string]string `mapstructure:"agent_models"`
	SystemPrompt string            `mapstructure:"system_prompt"`
	MaxTokens    int               `mapstructure:"max_tokens"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	MaxRetries   int               `mapstructure:"max_retries"`
}

// DeliveryConfig holds report delivery settings.
type DeliveryConfig struct {
	// WebSocketURL, when set, also pushes reports to a websocket endpoint.
	WebSocketURL string        `mapstructure:"websocket_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// StateConfig holds the bookkeeping database settings.
type StateConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver string `mapstructure:"driver"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
	JSON  bool   `mapstructure:"json"`
}

// SignalsConfig holds the cancel signal watcher settings.
type SignalsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Dir          string        `mapstructure:"dir"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ReportConfig holds report rendering settings.
type ReportConfig struct {
	MaxSummaryChars int `mapstructure:"max_summary_chars"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, FANOUT_*)
// 2. Project config (.fanout.yaml in current directory or parent)
// 3. User config (~/.config/fanout/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Load user config from XDG path
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		// Merge project config (takes precedence)
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path, still honouring
// environment overrides.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)
	return unmarshal(v)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names used by the Anthropic and AWS tooling.
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY", "FANOUT_ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.base_url", "ANTHROPIC_BASE_URL", "FANOUT_ANTHROPIC_BASE_URL")
	v.BindEnv("anthropic.aws_region", "FANOUT_ANTHROPIC_AWS_REGION", "AWS_REGION")
	v.BindEnv("anthropic.aws_profile", "FANOUT_ANTHROPIC_AWS_PROFILE", "AWS_PROFILE")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Delivery.WebSocketURL = expandEnv(cfg.Delivery.WebSocketURL)
	cfg.State.Path = expandPath(cfg.State.Path)
	cfg.Signals.Dir = expandPath(cfg.Signals.Dir)
	cfg.Log.File = expandPath(cfg.Log.File)
	cfg.Delegation.PolicyFile = expandPath(cfg.Delegation.PolicyFile)

	return cfg, nil
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Gate.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("gate.max_concurrent must be at least 1, got %d", c.Gate.MaxConcurrent))
	}
	for lane, limit := range c.Gate.Lanes {
		if limit < 1 {
			errs = append(errs, fmt.Errorf("gate.lanes.%s must be at least 1, got %d", lane, limit))
		}
	}
	if !models.CleanupPolicy(c.Mission.DefaultCleanup).Valid() {
		errs = append(errs, fmt.Errorf("mission.default_cleanup must be %q or %q, got %q",
			models.CleanupDelete, models.CleanupKeep, c.Mission.DefaultCleanup))
	}
	if c.Mission.Timeout < 0 {
		errs = append(errs, fmt.Errorf("mission.timeout must not be negative"))
	}
	switch c.State.Driver {
	case "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("state.driver must be sqlite or sqlite3, got %q", c.State.Driver))
	}
	if c.Requester.Identity == "" {
		errs = append(errs, errors.New("requester.identity must be set"))
	}
	return errors.Join(errs...)
}

// RequesterModel returns the configured requester.
func (c *Config) RequesterModel() models.Requester {
	r := c.Requester
	display := r.DisplayKey
	if display == "" {
		display = r.Identity
	}
	return models.Requester{
		SessionKey: r.SessionKey,
		Identity:   r.Identity,
		DisplayKey: display,
		Origin: models.Origin{
			Channel: r.Channel,
			Account: r.Account,
			Thread:  r.Thread,
		},
	}
}

// WriteDefault writes the built-in defaults to path as YAML. Existing
// files are left untouched.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	// The API key belongs in the environment, not in a file.
	v.Set("anthropic.api_key", "${ANTHROPIC_API_KEY}")
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	return v.WriteConfigAs(path)
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("requester.session_key", "agent:main:main")
	v.SetDefault("requester.identity", "main")
	v.SetDefault("requester.display_key", "")
	v.SetDefault("requester.channel", "cli")
	v.SetDefault("requester.account", "")
	v.SetDefault("requester.thread", "")

	v.SetDefault("delegation.allow_agents", []string{})
	v.SetDefault("delegation.policy_file", "")

	v.SetDefault("gate.max_concurrent", 8)
	v.SetDefault("gate.lane", "subagent")
	v.SetDefault("gate.lanes", map[string]int{})

	v.SetDefault("mission.timeout", "0s")
	v.SetDefault("mission.default_cleanup", string(models.CleanupKeep))
	v.SetDefault("mission.drain_timeout", "10s")
	v.SetDefault("mission.reap_concurrency", 4)
	v.SetDefault("mission.retain_finished", 256)

	v.SetDefault("worker.model", "claude-sonnet-4-20250514")
	v.SetDefault("worker.agent_models", map[string]string{})
	v.SetDefault("worker.system_prompt", "")
	v.SetDefault("worker.max_tokens", 4096)
	v.SetDefault("worker.timeout", "5m")
	v.SetDefault("worker.max_retries", 2)

	v.SetDefault("delivery.websocket_url", "")
	v.SetDefault("delivery.timeout", "30s")

	v.SetDefault("state.enabled", true)
	v.SetDefault("state.path", "")
	v.SetDefault("state.driver", "sqlite")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.json", false)

	v.SetDefault("signals.enabled", true)
	v.SetDefault("signals.dir", filepath.Join(getUserConfigDir(), "signals"))
	v.SetDefault("signals.poll_interval", "2s")

	v.SetDefault("report.max_summary_chars", 600)

	v.SetDefault("tui.refresh_rate", "100ms")
}

// getUserConfigDir returns the XDG config directory for fanout.
func getUserConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "fanout")
	}

	// Fall back to ~/.config/fanout
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "fanout")
	}
	return filepath.Join(home, ".config", "fanout")
}

// findProjectConfig searches for .fanout.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// expandPath expands environment references and a leading ~/.
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	return p
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Requester: RequesterConfig{
			SessionKey: "agent:main:main",
			Identity:   "main",
			Channel:    "cli",
		},
		Delegation: DelegationConfig{
			AllowAgents: []string{},
		},
		Gate: GateConfig{
			MaxConcurrent: 8,
			Lane:          "subagent",
			Lanes:         map[string]int{},
		},
		Mission: MissionConfig{
			DefaultCleanup:  string(models.CleanupKeep),
			DrainTimeout:    10 * time.Second,
			ReapConcurrency: 4,
			RetainFinished:  256,
		},
		Worker: WorkerConfig{
			Model:       "claude-sonnet-4-20250514",
			AgentModels: map[string]string{},
			MaxTokens:   4096,
			Timeout:     5 * time.Minute,
			MaxRetries:  2,
		},
		Delivery: DeliveryConfig{
			Timeout: 30 * time.Second,
		},
		State: StateConfig{
			Enabled: true,
			Driver:  "sqlite",
		},
		Log: LogConfig{
			Level: "info",
		},
		Signals: SignalsConfig{
			Enabled:      true,
			Dir:          filepath.Join(getUserConfigDir(), "signals"),
			PollInterval: 2 * time.Second,
		},
		Report: ReportConfig{
			MaxSummaryChars: 600,
		},
		TUI: TUIConfig{
			RefreshRate: 100 * time.Millisecond,
		},
	}
}
