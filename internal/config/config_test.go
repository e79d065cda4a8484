package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/fanout/pkg/models"
)

// isolate points every config lookup at empty temp directories.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Chdir(t.TempDir())
	return home
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Gate.MaxConcurrent != 8 {
		t.Errorf("expected gate.max_concurrent 8, got %d", cfg.Gate.MaxConcurrent)
	}
	if cfg.Gate.Lane != "subagent" {
		t.Errorf("expected gate.lane 'subagent', got %q", cfg.Gate.Lane)
	}
	if cfg.Mission.DefaultCleanup != string(models.CleanupKeep) {
		t.Errorf("expected default cleanup keep, got %q", cfg.Mission.DefaultCleanup)
	}
	if cfg.Mission.Timeout != 0 {
		t.Errorf("expected no mission timeout, got %v", cfg.Mission.Timeout)
	}
	if cfg.Worker.Timeout != 5*time.Minute {
		t.Errorf("expected worker timeout 5m, got %v", cfg.Worker.Timeout)
	}
	if cfg.State.Driver != "sqlite" {
		t.Errorf("expected state driver sqlite, got %q", cfg.State.Driver)
	}
	if cfg.TUI.RefreshRate != 100*time.Millisecond {
		t.Errorf("expected refresh rate 100ms, got %v", cfg.TUI.RefreshRate)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadMatchesDefault(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	def := Default()

	if cfg.Gate.MaxConcurrent != def.Gate.MaxConcurrent {
		t.Errorf("gate.max_concurrent = %d, default %d", cfg.Gate.MaxConcurrent, def.Gate.MaxConcurrent)
	}
	if cfg.Mission.DrainTimeout != def.Mission.DrainTimeout {
		t.Errorf("mission.drain_timeout = %v, default %v", cfg.Mission.DrainTimeout, def.Mission.DrainTimeout)
	}
	if cfg.Signals.Dir != def.Signals.Dir {
		t.Errorf("signals.dir = %q, default %q", cfg.Signals.Dir, def.Signals.Dir)
	}
	if cfg.Report.MaxSummaryChars != def.Report.MaxSummaryChars {
		t.Errorf("report.max_summary_chars = %d, default %d", cfg.Report.MaxSummaryChars, def.Report.MaxSummaryChars)
	}
	if cfg.Requester.Identity != "main" {
		t.Errorf("requester.identity = %q, want main", cfg.Requester.Identity)
	}
}

func TestLoadFromPath(t *testing.T) {
	isolate(t)
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
anthropic:
  api_key: test-key
requester:
  identity: planner
  session_key: agent:planner:main
  channel: slack
  thread: T42
delegation:
  allow_agents: [researcher, writer]
gate:
  max_concurrent: 2
  lanes:
    batch: 1
mission:
  timeout: 90s
  default_cleanup: delete
worker:
  model: claude-3-5-haiku-latest
  agent_models:
    writer: claude-opus-4-20250514
tui:
  refresh_rate: 200ms
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Anthropic.APIKey != "test-key" {
		t.Errorf("expected api_key 'test-key', got %q", cfg.Anthropic.APIKey)
	}
	if got := strings.Join(cfg.Delegation.AllowAgents, ","); got != "researcher,writer" {
		t.Errorf("expected allow_agents researcher,writer, got %q", got)
	}
	if cfg.Gate.MaxConcurrent != 2 || cfg.Gate.Lanes["batch"] != 1 {
		t.Errorf("unexpected gate config: %+v", cfg.Gate)
	}
	if cfg.Mission.Timeout != 90*time.Second {
		t.Errorf("expected mission timeout 90s, got %v", cfg.Mission.Timeout)
	}
	if cfg.Mission.DefaultCleanup != "delete" {
		t.Errorf("expected cleanup delete, got %q", cfg.Mission.DefaultCleanup)
	}
	if cfg.Worker.AgentModels["writer"] != "claude-opus-4-20250514" {
		t.Errorf("expected writer model override, got %v", cfg.Worker.AgentModels)
	}
	if cfg.TUI.RefreshRate != 200*time.Millisecond {
		t.Errorf("expected refresh rate 200ms, got %v", cfg.TUI.RefreshRate)
	}
	// Unset keys keep their defaults.
	if cfg.Worker.MaxTokens != 4096 {
		t.Errorf("expected default max tokens 4096, got %d", cfg.Worker.MaxTokens)
	}

	r := cfg.RequesterModel()
	if r.Identity != "planner" || r.DisplayKey != "planner" || r.Origin.Channel != "slack" || r.Origin.Thread != "T42" {
		t.Errorf("unexpected requester: %+v", r)
	}
}

func TestLoadFromPath_Missing(t *testing.T) {
	isolate(t)
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadProjectOverridesUser(t *testing.T) {
	home := isolate(t)

	userDir := filepath.Join(home, "config", "fanout")
	if err := os.MkdirAll(userDir, 0755); err != nil {
		t.Fatal(err)
	}
	user := "gate:\n  max_concurrent: 3\nlog:\n  level: debug\n"
	if err := os.WriteFile(filepath.Join(userDir, "config.yaml"), []byte(user), 0644); err != nil {
		t.Fatal(err)
	}

	project := t.TempDir()
	nested := filepath.Join(project, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(project, ProjectConfigName), []byte("gate:\n  max_concurrent: 5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(nested)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Gate.MaxConcurrent != 5 {
		t.Errorf("expected project override 5, got %d", cfg.Gate.MaxConcurrent)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected user log level debug, got %q", cfg.Log.Level)
	}
	if got := GetProjectConfigPath(); filepath.Base(got) != ProjectConfigName {
		t.Errorf("GetProjectConfigPath() = %q", got)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-env")
	t.Setenv("FANOUT_GATE_MAX_CONCURRENT", "12")
	t.Setenv("FANOUT_MISSION_DEFAULT_CLEANUP", "delete")
	t.Setenv("FANOUT_LOG_JSON", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-ant-from-env" {
		t.Errorf("expected api key from env, got %q", cfg.Anthropic.APIKey)
	}
	if cfg.Gate.MaxConcurrent != 12 {
		t.Errorf("expected max_concurrent 12, got %d", cfg.Gate.MaxConcurrent)
	}
	if cfg.Mission.DefaultCleanup != "delete" {
		t.Errorf("expected cleanup delete, got %q", cfg.Mission.DefaultCleanup)
	}
	if !cfg.Log.JSON {
		t.Error("expected log.json true")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero concurrency", func(c *Config) { c.Gate.MaxConcurrent = 0 }, "gate.max_concurrent"},
		{"bad lane", func(c *Config) { c.Gate.Lanes["batch"] = 0 }, "gate.lanes.batch"},
		{"bad cleanup", func(c *Config) { c.Mission.DefaultCleanup = "archive" }, "mission.default_cleanup"},
		{"negative timeout", func(c *Config) { c.Mission.Timeout = -time.Second }, "mission.timeout"},
		{"bad driver", func(c *Config) { c.State.Driver = "postgres" }, "state.driver"},
		{"no identity", func(c *Config) { c.Requester.Identity = "" }, "requester.identity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}
	if err := WriteDefault(path); err == nil {
		t.Error("expected error when config already exists")
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Gate.MaxConcurrent != 8 {
		t.Errorf("expected written max_concurrent 8, got %d", cfg.Gate.MaxConcurrent)
	}
	// ${ANTHROPIC_API_KEY} is unset in the test environment.
	if cfg.Anthropic.APIKey != "" {
		t.Errorf("expected unresolved api key to expand to empty, got %q", cfg.Anthropic.APIKey)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "expanded-value")

	result := expandEnv("${TEST_VAR}")
	if result != "expanded-value" {
		t.Errorf("expected 'expanded-value', got %q", result)
	}

	result = expandEnv("prefix-${TEST_VAR}-suffix")
	if result != "prefix-expanded-value-suffix" {
		t.Errorf("expected 'prefix-expanded-value-suffix', got %q", result)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/fanout/state.db"); got != filepath.Join(home, "fanout", "state.db") {
		t.Errorf("expandPath(~/...) = %q", got)
	}
	if got := expandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("expandPath(/abs/path) = %q", got)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	dir := getUserConfigDir()
	expected := "/custom/config/fanout"
	if dir != expected {
		t.Errorf("expected %q, got %q", expected, dir)
	}
	if got := GetUserConfigPath(); got != filepath.Join(expected, "config.yaml") {
		t.Errorf("GetUserConfigPath() = %q", got)
	}
}
