// Package config handles configuration loading for storyloop.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for storyloop.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Loop      LoopConfig      `mapstructure:"loop"`
	Checks    []CheckConfig   `mapstructure:"checks"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// AnthropicConfig holds agent backend settings.
type AnthropicConfig struct {
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model"`
	MaxTokens     int    `mapstructure:"max_tokens"`
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// LoopConfig holds defaults for loop execution budgets and cadence.
type LoopConfig struct {
	MaxIterations     int           `mapstructure:"max_iterations"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	MaxFixups         int           `mapstructure:"max_fixups"`
	StoryTimeout      time.Duration `mapstructure:"story_timeout"`
	IterationDelay    time.Duration `mapstructure:"iteration_delay"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	AutoSnapshot      bool          `mapstructure:"auto_snapshot"`
	AutoCommit        bool          `mapstructure:"auto_commit"`
	PauseOnFailure    bool          `mapstructure:"pause_on_failure"`
	MaxLearnings      int           `mapstructure:"max_learnings"`
	SystemPromptFile  string        `mapstructure:"system_prompt_file"`
	SelectionRetries  int           `mapstructure:"selection_retries"`
}

// CheckConfig describes one quality check command.
type CheckConfig struct {
	ID       string        `mapstructure:"id"`
	Name     string        `mapstructure:"name"`
	Command  string        `mapstructure:"command"`
	Required bool          `mapstructure:"required"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig holds state database settings.
type DatabaseConfig struct {
	// Path overrides the default project-local database location.
	Path string `mapstructure:"path"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.storyloop.yaml in current directory or parent)
// 3. User config (~/.config/storyloop/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// DatabasePath returns the state database location for a workspace.
func (c *Config) DatabasePath(workspace string) string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(workspace, ".storyloop", "state.db")
}

// setDefaults configures built-in default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 8192)

	v.SetDefault("loop.max_iterations", 50)
	v.SetDefault("loop.max_attempts", 3)
	v.SetDefault("loop.max_fixups", 2)
	v.SetDefault("loop.story_timeout", "20m")
	v.SetDefault("loop.iteration_delay", "2s")
	v.SetDefault("loop.heartbeat_interval", "15s")
	v.SetDefault("loop.stale_after", "90s")
	v.SetDefault("loop.sweep_interval", "30s")
	v.SetDefault("loop.auto_snapshot", true)
	v.SetDefault("loop.auto_commit", false)
	v.SetDefault("loop.pause_on_failure", false)
	v.SetDefault("loop.max_learnings", 10)
	v.SetDefault("loop.selection_retries", 3)

	v.SetDefault("checks", []map[string]any{
		{"id": "build", "name": "Build", "command": "go build ./...", "required": true, "timeout": "5m"},
		{"id": "test", "name": "Tests", "command": "go test ./...", "required": true, "timeout": "10m"},
		{"id": "lint", "name": "Lint", "command": "go vet ./...", "required": false, "timeout": "5m"},
	})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// userConfigDir returns the XDG config directory for storyloop.
func userConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "storyloop")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "storyloop")
	}
	return filepath.Join(home, ".config", "storyloop")
}

// findProjectConfig searches for .storyloop.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".storyloop.yaml")
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
