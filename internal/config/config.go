// Package config holds riskloop configuration: loop bounds, evidence source
// settings, remediation LLM settings, persistence, and logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"riskloop/internal/logging"
)

// Config holds all riskloop configuration.
type Config struct {
	// Loop settings
	Loop LoopConfig `yaml:"loop"`

	// Evidence gathering
	Research ResearchConfig `yaml:"research"`

	// Remediation LLM
	LLM LLMConfig `yaml:"llm"`

	// Run history persistence
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging logging.Config `yaml:"logging"`
}

// LoopConfig bounds the convergence loop.
type LoopConfig struct {
	MaxIterations       int     `yaml:"max_iterations"`        // Hard iteration cap (default 10)
	TargetFailureRate   float64 `yaml:"target_failure_rate"`   // Convergence threshold, 0-100 (default 5)
	EvidenceLimit       int     `yaml:"evidence_limit"`        // Max artifacts per source per iteration
	CollaboratorTimeout string  `yaml:"collaborator_timeout"`  // Per-call timeout, e.g. "90s"; empty disables
}

// ResearchConfig configures the evidence sources.
type ResearchConfig struct {
	GitHubBaseURL string `yaml:"github_base_url"`
	GitHubToken   string `yaml:"github_token"`
	ArxivBaseURL  string `yaml:"arxiv_base_url"`
	Timeout       string `yaml:"timeout"`
	UserAgent     string `yaml:"user_agent"`
}

// LLMConfig configures the remediation LLM provider.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// StoreConfig configures run history persistence.
type StoreConfig struct {
	DBPath string `yaml:"db_path"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Loop: LoopConfig{
			MaxIterations:       10,
			TargetFailureRate:   5,
			EvidenceLimit:       5,
			CollaboratorTimeout: "90s",
		},
		Research: ResearchConfig{
			GitHubBaseURL: "https://api.github.com",
			ArxivBaseURL:  "http://export.arxiv.org/api",
			Timeout:       "30s",
			UserAgent:     "riskloop/1.0 (convergence research)",
		},
		LLM: LLMConfig{
			BaseURL: "https://api.anthropic.com/v1",
			Model:   "claude-sonnet-4-20250514",
			Timeout: "120s",
		},
		Store: StoreConfig{
			DBPath: filepath.Join(".riskloop", "runs.db"),
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads config from a yaml file, filling gaps with defaults and then
// applying environment overrides. A missing file yields pure defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to a yaml file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides lets environment variables win over file values.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("RISKLOOP_LLM_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}
	if tok := os.Getenv("RISKLOOP_GITHUB_TOKEN"); tok != "" {
		c.Research.GitHubToken = tok
	}
	if tok := os.Getenv("GITHUB_TOKEN"); tok != "" && c.Research.GitHubToken == "" {
		c.Research.GitHubToken = tok
	}
	if path := os.Getenv("RISKLOOP_DB"); path != "" {
		c.Store.DBPath = path
	}
}

// Validate checks bounds that would otherwise surface deep inside the loop.
func (c *Config) Validate() error {
	if c.Loop.MaxIterations <= 0 {
		return fmt.Errorf("loop.max_iterations must be positive, got %d", c.Loop.MaxIterations)
	}
	if c.Loop.TargetFailureRate < 0 || c.Loop.TargetFailureRate > 100 {
		return fmt.Errorf("loop.target_failure_rate must be in [0,100], got %g", c.Loop.TargetFailureRate)
	}
	if c.Loop.EvidenceLimit < 0 {
		return fmt.Errorf("loop.evidence_limit must not be negative, got %d", c.Loop.EvidenceLimit)
	}
	return nil
}

// CollaboratorTimeout parses the loop collaborator timeout. Zero means
// no timeout.
func (c *Config) CollaboratorTimeout() time.Duration {
	return parseDuration(c.Loop.CollaboratorTimeout, 0)
}

// ResearchTimeout parses the evidence source HTTP timeout.
func (c *Config) ResearchTimeout() time.Duration {
	return parseDuration(c.Research.Timeout, 30*time.Second)
}

// LLMTimeout parses the remediation LLM timeout.
func (c *Config) LLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
