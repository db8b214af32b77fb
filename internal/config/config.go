package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Runs          RunsConfig          `toml:"runs"`
	Scheduler     SchedulerConfig     `toml:"scheduler"`
	Worktree      WorktreeConfig      `toml:"worktree"`
	Watcher       WatcherConfig       `toml:"watcher"`
	Web           WebConfig           `toml:"web"`
	Notifications NotificationsConfig `toml:"notifications"`

	// Projects maps a project identifier to its repository path
	Projects map[string]string `toml:"projects"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DataDir     string `toml:"data_dir"`
	AgentBinary string `toml:"agent_binary"`
	LogLevel    string `toml:"log_level"`
}

// RunsConfig bounds run execution
type RunsConfig struct {
	MaxConcurrent         int   `toml:"max_concurrent"`
	MaxRunsPerAutomation  int   `toml:"max_runs_per_automation"`
	DefaultTimeoutMinutes int   `toml:"default_timeout_minutes"`
	MaxOutputBytes        int64 `toml:"max_output_bytes"`
	MaxTurns              int   `toml:"max_turns"`
}

// SchedulerConfig holds cron scheduling settings
type SchedulerConfig struct {
	MissedRunWindowHours int `toml:"missed_run_window_hours"`
}

// WorktreeConfig holds checkout settings
type WorktreeConfig struct {
	Dir                 string `toml:"dir"`
	RetentionHours      int    `toml:"retention_hours"`
	SweepIntervalMinute int    `toml:"sweep_interval_minutes"`
}

// WatcherConfig holds file watcher settings
type WatcherConfig struct {
	DebounceMs int `toml:"debounce_ms"`
}

// WebConfig holds admin API settings
type WebConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DataDir:     filepath.Join(home, ".claude-automations"),
			AgentBinary: "claude",
			LogLevel:    "info",
		},
		Runs: RunsConfig{
			MaxConcurrent:         3,
			MaxRunsPerAutomation:  50,
			DefaultTimeoutMinutes: 30,
			MaxOutputBytes:        10 * 1024 * 1024,
			MaxTurns:              0,
		},
		Scheduler: SchedulerConfig{
			MissedRunWindowHours: 24,
		},
		Worktree: WorktreeConfig{
			Dir:                 filepath.Join(home, ".claude-automations", "worktrees"),
			RetentionHours:      168,
			SweepIntervalMinute: 60,
		},
		Watcher: WatcherConfig{
			DebounceMs: 500,
		},
		Web: WebConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Projects: map[string]string{},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.Worktree.Dir = ExpandPath(cfg.Worktree.Dir)
	for id, path := range cfg.Projects {
		cfg.Projects[id] = ExpandPath(path)
	}

	return cfg, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "claude-automations", "config.toml")
}

// WebAddr returns the host:port the admin API listens on
func (c *Config) WebAddr() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}
