package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Dir is the workspace directory holding config, phases and state
const Dir = ".autopilot"

// Config represents the autopilot configuration
type Config struct {
	Run     RunConfig     `mapstructure:"run"`
	Budget  BudgetConfig  `mapstructure:"budget"`
	Logging LoggingConfig `mapstructure:"logging"`
	Storage StorageConfig `mapstructure:"storage"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// RunConfig contains attempt and command execution settings
type RunConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	MaxReplans      int           `mapstructure:"max_replans"`
	ParallelWorkers int           `mapstructure:"parallel_workers"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout"`
}

// BudgetConfig contains token budget settings
type BudgetConfig struct {
	RunBudgetTokens       int     `mapstructure:"run_budget_tokens"`
	InitialTokenBudget    int     `mapstructure:"initial_token_budget"`
	TokenEscalationFactor float64 `mapstructure:"token_escalation_factor"`
	MaxTokenBudget        int     `mapstructure:"max_token_budget"`
}

// LoggingConfig contains structured log settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig contains state and journal locations, relative to the workspace
type StorageConfig struct {
	PhaseFile  string `mapstructure:"phase_file"`
	StateFile  string `mapstructure:"state_file"`
	JournalDir string `mapstructure:"journal_dir"`
	LogDir     string `mapstructure:"log_dir"`
}

// MetricsConfig contains metrics export settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	File    string `mapstructure:"file"`
}

// Path returns the config.yaml path for a workspace
func Path(workspaceDir string) string {
	return filepath.Join(workspaceDir, Dir, "config.yaml")
}

// Load reads the config from the workspace
func Load(workspaceDir string) (*Config, error) {
	configPath := Path(workspaceDir)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AUTOPILOT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Run: RunConfig{
			MaxAttempts:     5,
			MaxReplans:      2,
			ParallelWorkers: 2,
			CommandTimeout:  10 * time.Minute,
		},
		Budget: BudgetConfig{
			RunBudgetTokens:       500000,
			InitialTokenBudget:    8192,
			TokenEscalationFactor: 1.5,
			MaxTokenBudget:        64000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			PhaseFile:  filepath.Join(Dir, "phases.yaml"),
			StateFile:  filepath.Join(Dir, "state.json"),
			JournalDir: filepath.Join(Dir, "journal"),
			LogDir:     filepath.Join(Dir, "logs"),
		},
		Metrics: MetricsConfig{
			File: filepath.Join(Dir, "metrics.prom"),
		},
	}
}

// Validate rejects values the orchestrator cannot run with
func (c *Config) Validate() error {
	if c.Run.MaxAttempts < 1 {
		return fmt.Errorf("run.max_attempts: must be at least 1, got %d", c.Run.MaxAttempts)
	}
	if c.Run.MaxReplans < 0 {
		return fmt.Errorf("run.max_replans: must not be negative, got %d", c.Run.MaxReplans)
	}
	if c.Budget.TokenEscalationFactor < 1 {
		return fmt.Errorf("budget.token_escalation_factor: must be at least 1, got %g", c.Budget.TokenEscalationFactor)
	}
	if c.Budget.MaxTokenBudget < c.Budget.InitialTokenBudget {
		return fmt.Errorf("budget.max_token_budget: must be at least initial_token_budget (%d)", c.Budget.InitialTokenBudget)
	}
	return nil
}

// Resolve returns p joined to workspaceDir unless it is absolute
func Resolve(workspaceDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspaceDir, p)
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Run.MaxAttempts == 0 {
		cfg.Run.MaxAttempts = defaults.Run.MaxAttempts
	}
	if cfg.Run.ParallelWorkers == 0 {
		cfg.Run.ParallelWorkers = defaults.Run.ParallelWorkers
	}
	if cfg.Run.CommandTimeout == 0 {
		cfg.Run.CommandTimeout = defaults.Run.CommandTimeout
	}
	if cfg.Budget.RunBudgetTokens == 0 {
		cfg.Budget.RunBudgetTokens = defaults.Budget.RunBudgetTokens
	}
	if cfg.Budget.InitialTokenBudget == 0 {
		cfg.Budget.InitialTokenBudget = defaults.Budget.InitialTokenBudget
	}
	if cfg.Budget.TokenEscalationFactor == 0 {
		cfg.Budget.TokenEscalationFactor = defaults.Budget.TokenEscalationFactor
	}
	if cfg.Budget.MaxTokenBudget == 0 {
		cfg.Budget.MaxTokenBudget = defaults.Budget.MaxTokenBudget
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
	if cfg.Storage.PhaseFile == "" {
		cfg.Storage.PhaseFile = defaults.Storage.PhaseFile
	}
	if cfg.Storage.StateFile == "" {
		cfg.Storage.StateFile = defaults.Storage.StateFile
	}
	if cfg.Storage.JournalDir == "" {
		cfg.Storage.JournalDir = defaults.Storage.JournalDir
	}
	if cfg.Storage.LogDir == "" {
		cfg.Storage.LogDir = defaults.Storage.LogDir
	}
	if cfg.Metrics.File == "" {
		cfg.Metrics.File = defaults.Metrics.File
	}
}
