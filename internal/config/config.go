// Package config loads and validates the planweave configuration. Values
// come from, in increasing precedence: built-in defaults, the config file
// (~/.config/planweave/config.yaml), and PLANWEAVE_* environment variables.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete planweave configuration
type Config struct {
	Executor ExecutorConfig `mapstructure:"executor"`
	Replan   ReplanConfig   `mapstructure:"replan"`
	Planner  PlannerConfig  `mapstructure:"planner"`
	Provider ProviderConfig `mapstructure:"provider"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Paths    PathsConfig    `mapstructure:"paths"`
}

// ExecutorConfig controls the bounded-parallel scheduler
type ExecutorConfig struct {
	// MaxParallel is the maximum number of steps running concurrently (default: 3)
	MaxParallel int `mapstructure:"max_parallel"`
	// StepTimeoutSeconds is the per-step tool deadline in seconds (0 = disabled, default: 60)
	StepTimeoutSeconds int `mapstructure:"step_timeout_seconds"`
	// RetryBudget is how many times a failed step is retried with the same
	// tool before replanning takes over (default: 1)
	RetryBudget int `mapstructure:"retry_budget"`
}

// ReplanConfig controls plan revision on step failure
type ReplanConfig struct {
	// MaxRounds is the maximum number of plan revisions per run (default: 3)
	MaxRounds int `mapstructure:"max_rounds"`
	// SkipUnreachable marks downstream pending steps skipped once a failure
	// becomes final, instead of leaving them pending (default: true)
	SkipUnreachable bool `mapstructure:"skip_unreachable"`
}

// PlannerConfig controls plan generation
type PlannerConfig struct {
	// Strategy forces a planning strategy: "auto", "htn", or "generative" (default: "auto")
	Strategy string `mapstructure:"strategy"`
	// DomainFile is the path to the HTN domain definition in YAML.
	// Empty disables the HTN strategy.
	DomainFile string `mapstructure:"domain_file"`
}

// ProviderConfig controls the reasoning backend used by generative planning
type ProviderConfig struct {
	// Backend selects the provider: "openai", "ollama", or "none" (default: "none")
	Backend string `mapstructure:"backend"`
	// Model is the model identifier passed to the backend
	Model string `mapstructure:"model"`
	// BaseURL overrides the backend endpoint (e.g. a local ollama server)
	BaseURL string `mapstructure:"base_url"`
}

// MemoryConfig controls the run memory store
type MemoryConfig struct {
	// Backend selects the store: "sqlite" or "inmemory" (default: "sqlite")
	Backend string `mapstructure:"backend"`
	// Path is the SQLite database file. Empty uses {data_dir}/memory.db.
	Path string `mapstructure:"path"`
}

// LoggingConfig controls run logging behavior
type LoggingConfig struct {
	// Enabled controls whether file logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// PathsConfig controls where planweave stores data
type PathsConfig struct {
	// DataDir is the directory for run logs, plan history, and the memory
	// store. If empty, defaults to ~/.local/share/planweave.
	// Supports ~ for home directory expansion.
	DataDir string `mapstructure:"data_dir"`
}

// StepTimeout returns the per-step deadline as a time.Duration (0 means disabled)
func (c *ExecutorConfig) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutSeconds) * time.Second
}

// ResolveDataDir returns the data directory with defaults and ~ expansion
// applied.
func (p *PathsConfig) ResolveDataDir() string {
	dir := p.DataDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ".planweave"
		}
		return filepath.Join(home, ".local", "share", "planweave")
	}
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
		}
	}
	return dir
}

// Default returns a Config populated with default values
func Default() *Config {
	return &Config{
		Executor: ExecutorConfig{
			MaxParallel:        3,
			StepTimeoutSeconds: 60,
			RetryBudget:        1,
		},
		Replan: ReplanConfig{
			MaxRounds:       3,
			SkipUnreachable: true,
		},
		Planner: PlannerConfig{
			Strategy: "auto",
		},
		Provider: ProviderConfig{
			Backend: "none",
			Model:   "gpt-4o-mini",
		},
		Memory: MemoryConfig{
			Backend: "sqlite",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Executor defaults
	viper.SetDefault("executor.max_parallel", defaults.Executor.MaxParallel)
	viper.SetDefault("executor.step_timeout_seconds", defaults.Executor.StepTimeoutSeconds)
	viper.SetDefault("executor.retry_budget", defaults.Executor.RetryBudget)

	// Replan defaults
	viper.SetDefault("replan.max_rounds", defaults.Replan.MaxRounds)
	viper.SetDefault("replan.skip_unreachable", defaults.Replan.SkipUnreachable)

	// Planner defaults
	viper.SetDefault("planner.strategy", defaults.Planner.Strategy)
	viper.SetDefault("planner.domain_file", defaults.Planner.DomainFile)

	// Provider defaults
	viper.SetDefault("provider.backend", defaults.Provider.Backend)
	viper.SetDefault("provider.model", defaults.Provider.Model)
	viper.SetDefault("provider.base_url", defaults.Provider.BaseURL)

	// Memory defaults
	viper.SetDefault("memory.backend", defaults.Memory.Backend)
	viper.SetDefault("memory.path", defaults.Memory.Path)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Paths defaults
	viper.SetDefault("paths.data_dir", defaults.Paths.DataDir)
}

// newEnvReplacer maps nested config keys onto environment variable names,
// so executor.max_parallel reads PLANWEAVE_EXECUTOR_MAX_PARALLEL.
func newEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}

// Init wires viper's config file discovery and environment overrides, then
// registers defaults. Call once at process startup before Load.
func Init(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(ConfigDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PLANWEAVE")
	viper.SetEnvKeyReplacer(newEnvReplacer())
	viper.AutomaticEnv()

	SetDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env apply.
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && (errors.As(err, &notFound) || os.IsNotExist(err)) {
			return nil
		}
		return err
	}
	return nil
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "planweave")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".planweave"
	}
	return filepath.Join(home, ".config", "planweave")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
