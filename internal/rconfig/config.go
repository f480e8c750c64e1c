// Package rconfig loads and validates the engine's YAML configuration
// document, mirroring the teacher's internal/config package: a single
// Config struct with nested per-concern sub-configs, a DefaultConfig(),
// environment-variable overrides, and Load/Save against a YAML file.
package rconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/KSD-CO/rule-engine-go/internal/rlog"
)

// EngineConfig bounds forward-chaining execution (spec §5's cancellation
// knobs).
type EngineConfig struct {
	MaxCycles    int    `yaml:"max_cycles" json:"max_cycles"`
	CycleTimeout string `yaml:"cycle_timeout" json:"cycle_timeout"` // parsed via time.ParseDuration; "" = unbounded
}

// AgendaConfig configures the default forward-chaining agenda.
type AgendaConfig struct {
	DefaultAgendaGroup string `yaml:"default_agenda_group" json:"default_agenda_group"`
}

// BackwardConfig supplies the default GRL query attributes of spec §6 when a
// query doesn't set them explicitly.
type BackwardConfig struct {
	Strategy           string `yaml:"strategy" json:"strategy"`
	MaxDepth           int    `yaml:"max_depth" json:"max_depth"`
	MaxSolutions       int    `yaml:"max_solutions" json:"max_solutions"`
	EnableMemoization  bool   `yaml:"enable_memoization" json:"enable_memoization"`
	EnableOptimization bool   `yaml:"enable_optimization" json:"enable_optimization"`
}

// LoggingConfig configures internal/rlog. Shaped identically to
// rlog.Config so ToRlogConfig is a straight field copy, kept as a separate
// type (rather than embedding rlog.Config) so the YAML document controls
// its own tag names independent of rlog's internals.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level,omitempty"`
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode,omitempty"`
	JSONFormat bool            `yaml:"json_format" json:"json_format,omitempty"`
	Categories map[string]bool `yaml:"categories" json:"categories,omitempty"`
}

// ToRlogConfig converts to the shape internal/rlog.Init expects.
func (c LoggingConfig) ToRlogConfig() rlog.Config {
	return rlog.Config{
		DebugMode:  c.DebugMode,
		Categories: c.Categories,
		Level:      c.Level,
		JSONFormat: c.JSONFormat,
	}
}

// IsCategoryEnabled mirrors the teacher's config.LoggingConfig helper.
func (c LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}

// RulesConfig points the engine at the GRL rule files to load at startup.
type RulesConfig struct {
	Paths           []string `yaml:"paths" json:"paths"`
	WatchForChanges bool     `yaml:"watch_for_changes" json:"watch_for_changes"`
}

// Config holds the engine's complete configuration document.
type Config struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`

	Engine   EngineConfig   `yaml:"engine" json:"engine"`
	Agenda   AgendaConfig   `yaml:"agenda" json:"agenda"`
	Backward BackwardConfig `yaml:"backward" json:"backward"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Rules    RulesConfig    `yaml:"rules" json:"rules"`
}

// DefaultConfig returns the engine's default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "rule-engine-go",
		Version: "1.0",

		Engine: EngineConfig{
			MaxCycles:    10000,
			CycleTimeout: "",
		},
		Agenda: AgendaConfig{
			DefaultAgendaGroup: "MAIN",
		},
		Backward: BackwardConfig{
			Strategy:           "depth-first",
			MaxDepth:           10,
			MaxSolutions:       1,
			EnableMemoization:  true,
			EnableOptimization: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			DebugMode:  false,
			JSONFormat: false,
		},
		Rules: RulesConfig{
			WatchForChanges: false,
		},
	}
}

// Load reads configuration from a YAML file at path, falling back to
// DefaultConfig if the file doesn't exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	log := rlog.Get(rlog.CategoryConfig)
	log.Debugw("loading config", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Infow("config file not found, using defaults", "path", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("rconfig: read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("rconfig: parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	log.Infow("config loaded", "max_cycles", cfg.Engine.MaxCycles, "max_depth", cfg.Backward.MaxDepth)
	return cfg, nil
}

// Save writes the configuration to path as YAML, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("rconfig: create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("rconfig: marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("rconfig: write config: %w", err)
	}
	return nil
}

// applyEnvOverrides layers environment variables over the loaded document,
// grounded on the teacher's RULEENGINE_*-prefixed equivalent of its
// ZAI_API_KEY/CODENERD_DB overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RULEENGINE_MAX_CYCLES"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			c.Engine.MaxCycles = n
		}
	}
	if v := os.Getenv("RULEENGINE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RULEENGINE_DEBUG"); v != "" {
		c.Logging.DebugMode = v == "1" || v == "true"
	}
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("value must be positive, got %d", n)
	}
	return n, nil
}

// GetCycleTimeout returns Engine.CycleTimeout as a duration, 0 meaning
// unbounded.
func (c *Config) GetCycleTimeout() time.Duration {
	if c.Engine.CycleTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Engine.CycleTimeout)
	if err != nil {
		return 0
	}
	return d
}

// Validate checks the configuration for internally-inconsistent values.
func (c *Config) Validate() error {
	if c.Engine.MaxCycles <= 0 {
		return fmt.Errorf("rconfig: engine.max_cycles must be positive, got %d", c.Engine.MaxCycles)
	}
	if c.Backward.MaxDepth < 0 {
		return fmt.Errorf("rconfig: backward.max_depth must be non-negative, got %d", c.Backward.MaxDepth)
	}
	if c.Backward.MaxSolutions <= 0 {
		return fmt.Errorf("rconfig: backward.max_solutions must be positive, got %d", c.Backward.MaxSolutions)
	}
	switch c.Backward.Strategy {
	case "depth-first", "breadth-first", "iterative":
	default:
		return fmt.Errorf("rconfig: invalid backward.strategy %q", c.Backward.Strategy)
	}
	return nil
}
