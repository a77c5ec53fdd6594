// Package config loads chopstack configuration: built-in defaults, merged
// with an optional .chopstack/config.yaml, overridden by CLI flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chopstack/chopstack/internal/vcs"
)

// SubmitConfig controls stack submission after a successful run.
type SubmitConfig struct {
	// Enabled opens reviews for the assembled branches.
	Enabled bool `yaml:"enabled"`

	// Draft opens reviews as drafts.
	Draft bool `yaml:"draft"`

	// AutoMerge enables auto-merge on the opened reviews.
	AutoMerge bool `yaml:"auto_merge"`
}

// Config represents chopstack configuration options.
type Config struct {
	// BranchPrefix namespaces every branch chopstack creates.
	BranchPrefix string `yaml:"branch_prefix"`

	// ShadowPath is where per-task worktrees live, relative to the
	// repository root.
	ShadowPath string `yaml:"shadow_path"`

	// TrunkRef is the integration ref the first layer bases on.
	TrunkRef string `yaml:"trunk_ref"`

	// VCSMode selects the backend: merge-commit or stacked.
	VCSMode string `yaml:"vcs_mode"`

	// StackingCLI is the external stacking tool used in stacked mode.
	StackingCLI string `yaml:"stacking_cli"`

	// ConflictStrategy is auto, manual or fail.
	ConflictStrategy vcs.ConflictStrategy `yaml:"conflict_strategy"`

	// CleanupOnSuccess removes a task's worktree after it succeeds.
	CleanupOnSuccess bool `yaml:"cleanup_on_success"`

	// CleanupOnFailure removes a failed task's worktree. Off by default
	// so failures stay inspectable.
	CleanupOnFailure bool `yaml:"cleanup_on_failure"`

	// MaxConcurrency caps concurrent tasks within a layer (0 = layer width).
	MaxConcurrency int `yaml:"max_concurrency"`

	// TaskTimeout is the wall-clock limit per task (0 = none).
	TaskTimeout time.Duration `yaml:"-"`

	// InactivityTimeout fails a task whose agent stays silent this long
	// (0 = none).
	InactivityTimeout time.Duration `yaml:"-"`

	// AgentCommand is the coding-agent command line.
	AgentCommand string `yaml:"agent_command"`

	// LogLevel sets console verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogDir is where run and task logs are written.
	LogDir string `yaml:"log_dir"`

	// HistoryDBPath is the sqlite run-history database.
	HistoryDBPath string `yaml:"history_db_path"`

	// Submit controls stack submission.
	Submit SubmitConfig `yaml:"submit"`
}

// DefaultConfig returns a Config with the chopstack defaults.
func DefaultConfig() *Config {
	return &Config{
		BranchPrefix:      "chopstack/",
		ShadowPath:        filepath.Join(".chopstack", "shadows"),
		TrunkRef:          "main",
		VCSMode:           "merge-commit",
		StackingCLI:       "gt",
		ConflictStrategy:  vcs.ConflictAuto,
		CleanupOnSuccess:  true,
		CleanupOnFailure:  false,
		MaxConcurrency:    0,
		TaskTimeout:       time.Hour,
		InactivityTimeout: 5 * time.Minute,
		AgentCommand:      "claude",
		LogLevel:          "info",
		LogDir:            filepath.Join(".chopstack", "logs"),
		HistoryDBPath:     filepath.Join(".chopstack", "history.db"),
	}
}

// yamlConfig mirrors Config for parsing, with durations as strings.
type yamlConfig struct {
	BranchPrefix      string               `yaml:"branch_prefix"`
	ShadowPath        string               `yaml:"shadow_path"`
	TrunkRef          string               `yaml:"trunk_ref"`
	VCSMode           string               `yaml:"vcs_mode"`
	StackingCLI       string               `yaml:"stacking_cli"`
	ConflictStrategy  vcs.ConflictStrategy `yaml:"conflict_strategy"`
	CleanupOnSuccess  *bool                `yaml:"cleanup_on_success"`
	CleanupOnFailure  *bool                `yaml:"cleanup_on_failure"`
	MaxConcurrency    int                  `yaml:"max_concurrency"`
	TaskTimeout       string               `yaml:"task_timeout"`
	InactivityTimeout string               `yaml:"inactivity_timeout"`
	AgentCommand      string               `yaml:"agent_command"`
	LogLevel          string               `yaml:"log_level"`
	LogDir            string               `yaml:"log_dir"`
	HistoryDBPath     string               `yaml:"history_db_path"`
	Submit            *SubmitConfig        `yaml:"submit"`
}

// LoadConfig loads configuration from the given file, merged over the
// defaults. A missing file is not an error; a malformed one is.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yamlCfg.BranchPrefix != "" {
		cfg.BranchPrefix = yamlCfg.BranchPrefix
	}
	if yamlCfg.ShadowPath != "" {
		cfg.ShadowPath = yamlCfg.ShadowPath
	}
	if yamlCfg.TrunkRef != "" {
		cfg.TrunkRef = yamlCfg.TrunkRef
	}
	if yamlCfg.VCSMode != "" {
		cfg.VCSMode = yamlCfg.VCSMode
	}
	if yamlCfg.StackingCLI != "" {
		cfg.StackingCLI = yamlCfg.StackingCLI
	}
	if yamlCfg.ConflictStrategy != "" {
		cfg.ConflictStrategy = yamlCfg.ConflictStrategy
	}
	if yamlCfg.CleanupOnSuccess != nil {
		cfg.CleanupOnSuccess = *yamlCfg.CleanupOnSuccess
	}
	if yamlCfg.CleanupOnFailure != nil {
		cfg.CleanupOnFailure = *yamlCfg.CleanupOnFailure
	}
	if yamlCfg.MaxConcurrency != 0 {
		cfg.MaxConcurrency = yamlCfg.MaxConcurrency
	}
	if yamlCfg.TaskTimeout != "" {
		timeout, err := time.ParseDuration(yamlCfg.TaskTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid task_timeout %q: %w", yamlCfg.TaskTimeout, err)
		}
		cfg.TaskTimeout = timeout
	}
	if yamlCfg.InactivityTimeout != "" {
		timeout, err := time.ParseDuration(yamlCfg.InactivityTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid inactivity_timeout %q: %w", yamlCfg.InactivityTimeout, err)
		}
		cfg.InactivityTimeout = timeout
	}
	if yamlCfg.AgentCommand != "" {
		cfg.AgentCommand = yamlCfg.AgentCommand
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	if yamlCfg.HistoryDBPath != "" {
		cfg.HistoryDBPath = yamlCfg.HistoryDBPath
	}
	if yamlCfg.Submit != nil {
		cfg.Submit = *yamlCfg.Submit
	}

	return cfg, nil
}

// LoadConfigFromDir loads .chopstack/config.yaml from the given directory,
// falling back to defaults when it does not exist.
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".chopstack", "config.yaml"))
}

// MergeWithFlags merges CLI flags into the configuration. Non-nil flag
// values override config file settings.
func (c *Config) MergeWithFlags(maxConcurrency *int, trunkRef, vcsMode, agentCommand *string, taskTimeout *time.Duration, submit *bool) {
	if maxConcurrency != nil {
		c.MaxConcurrency = *maxConcurrency
	}
	if trunkRef != nil {
		c.TrunkRef = *trunkRef
	}
	if vcsMode != nil {
		c.VCSMode = *vcsMode
	}
	if agentCommand != nil {
		c.AgentCommand = *agentCommand
	}
	if taskTimeout != nil {
		c.TaskTimeout = *taskTimeout
	}
	if submit != nil {
		c.Submit.Enabled = *submit
	}
}

// Validate returns an error if any configuration value is invalid.
func (c *Config) Validate() error {
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must be >= 0, got %d", c.MaxConcurrency)
	}
	if c.TaskTimeout < 0 {
		return fmt.Errorf("task_timeout must be >= 0, got %v", c.TaskTimeout)
	}
	if c.InactivityTimeout < 0 {
		return fmt.Errorf("inactivity_timeout must be >= 0, got %v", c.InactivityTimeout)
	}
	if c.VCSMode != "merge-commit" && c.VCSMode != "stacked" {
		return fmt.Errorf("invalid vcs_mode %q, must be merge-commit or stacked", c.VCSMode)
	}
	if !c.ConflictStrategy.Valid() {
		return fmt.Errorf("invalid conflict_strategy %q, must be one of: auto, manual, fail", c.ConflictStrategy)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: debug, info, warn, error", c.LogLevel)
	}
	if c.BranchPrefix == "" {
		return fmt.Errorf("branch_prefix cannot be empty")
	}
	if c.ShadowPath == "" {
		return fmt.Errorf("shadow_path cannot be empty")
	}
	return nil
}
