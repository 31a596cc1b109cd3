// Package config loads heal.yaml into the option structs of every component.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kamilpajak/heisenberg-heal/internal/cache"
	"github.com/kamilpajak/heisenberg-heal/internal/cost"
	"github.com/kamilpajak/heisenberg-heal/internal/healing"
	"github.com/kamilpajak/heisenberg-heal/internal/llm"
	"github.com/kamilpajak/heisenberg-heal/internal/metrics"
	"github.com/kamilpajak/heisenberg-heal/internal/retry"
	"github.com/kamilpajak/heisenberg-heal/pkg/models"
)

// DefaultPath is where the CLI looks for a config file.
const DefaultPath = "heal.yaml"

// Config represents the full heal.yaml configuration.
type Config struct {
	Retry    retry.Config   `yaml:"retry"`
	Cache    cache.Config   `yaml:"cache"`
	Cost     cost.Config    `yaml:"cost"`
	Healing  healing.Config `yaml:"healing"`
	Metrics  metrics.Config `yaml:"metrics"`
	LLM      LLMConfig      `yaml:"llm"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

// LLMConfig selects the provider behind the ai-powered strategy. API keys
// come from the environment, never from the file.
type LLMConfig struct {
	Provider          llm.Provider `yaml:"provider"`
	Model             string       `yaml:"model"`
	BaseURL           string       `yaml:"base_url"`
	MaxTokens         int          `yaml:"max_tokens"`
	RequestsPerSecond float64      `yaml:"requests_per_second"`
	Burst             int          `yaml:"burst"`
	// Analyze diagnoses failures with the model before regeneration.
	Analyze bool `yaml:"analyze"`
}

// StorageConfig holds the state files kept between runs.
type StorageConfig struct {
	CacheFile   string `yaml:"cache_file"`
	HistoryFile string `yaml:"history_file"`
	LedgerFile  string `yaml:"ledger_file"`
}

// DatabaseConfig enables Postgres persistence when URL is set. The URL may
// reference environment variables, e.g. ${DATABASE_URL}.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load reads and parses a heal.yaml file, applying defaults and validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault behaves like Load but returns the defaults when path does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		applyDefaults(cfg)
		return cfg, nil
	}
	return Load(path)
}

// Parse parses raw YAML bytes into a validated Config. Keys absent from
// the document keep their default values.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks a Config for logical errors.
func Validate(cfg *Config) error {
	if err := cfg.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := cfg.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := cfg.Cost.Validate(); err != nil {
		return fmt.Errorf("cost: %w", err)
	}
	if err := cfg.Healing.Validate(); err != nil {
		return fmt.Errorf("healing: %w", err)
	}
	if err := cfg.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if cfg.Healing.AutoRetry && cfg.Healing.MaxAttemptsPerTest-1 > cfg.Retry.MaxRetries {
		return fmt.Errorf("healing.max_attempts_per_test %d exceeds retry.max_retries+1 (%d)",
			cfg.Healing.MaxAttemptsPerTest, cfg.Retry.MaxRetries+1)
	}

	switch cfg.LLM.Provider {
	case llm.ProviderAnthropic, llm.ProviderOpenAI, llm.ProviderGoogle:
	default:
		return fmt.Errorf("llm.provider must be one of anthropic, openai, google, got %q", cfg.LLM.Provider)
	}
	if cfg.LLM.RequestsPerSecond < 0 {
		return fmt.Errorf("llm.requests_per_second must be >= 0")
	}
	if cfg.LLM.MaxTokens < 0 {
		return fmt.Errorf("llm.max_tokens must be >= 0")
	}
	if cfg.Healing.Strategy == models.StrategyFallback {
		return fmt.Errorf("healing.strategy %q is reserved for budget fallbacks; use %q or %q",
			models.StrategyFallback, models.StrategyAIPowered, models.StrategyRuleBased)
	}
	if url := cfg.Database.URL; url != "" && !strings.HasPrefix(url, "postgres://") && !strings.HasPrefix(url, "postgresql://") {
		return fmt.Errorf("database.url must be a postgres:// URL")
	}
	return nil
}

// UsesAI reports whether the configured strategy calls a model.
func (c *Config) UsesAI() bool {
	return c.Healing.Strategy == models.StrategyAIPowered || c.LLM.Analyze
}
