package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/kamilpajak/heisenberg-heal/internal/cache"
	"github.com/kamilpajak/heisenberg-heal/internal/cost"
	"github.com/kamilpajak/heisenberg-heal/internal/healing"
	"github.com/kamilpajak/heisenberg-heal/internal/llm"
	"github.com/kamilpajak/heisenberg-heal/internal/metrics"
	"github.com/kamilpajak/heisenberg-heal/internal/retry"
)

const stateDir = ".heal"

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Retry:   retry.DefaultConfig(),
		Cache:   cache.DefaultConfig(),
		Cost:    cost.DefaultConfig(),
		Healing: healing.DefaultConfig(),
		Metrics: metrics.DefaultConfig(),
		LLM: LLMConfig{
			Provider: llm.ProviderGoogle,
			Burst:    1,
		},
		Storage: StorageConfig{
			CacheFile:   filepath.Join(stateDir, "cache.json"),
			HistoryFile: filepath.Join(stateDir, "history.json"),
			LedgerFile:  filepath.Join(stateDir, "ledger.json"),
		},
		Log: LogConfig{Level: "info"},
	}
}

// applyDefaults fills values that depend on other fields or that an
// explicit empty value in the file should not clear.
func applyDefaults(cfg *Config) {
	cfg.LLM.Provider = llm.Provider(strings.ToLower(string(cfg.LLM.Provider)))
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = llm.ProviderGoogle
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 1
	}
	if cfg.Cache.EvictionPolicy == "" {
		cfg.Cache.EvictionPolicy = cache.EvictionLRU
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	def := Default().Storage
	if cfg.Storage.CacheFile == "" {
		cfg.Storage.CacheFile = def.CacheFile
	}
	if cfg.Storage.HistoryFile == "" {
		cfg.Storage.HistoryFile = def.HistoryFile
	}
	if cfg.Storage.LedgerFile == "" {
		cfg.Storage.LedgerFile = def.LedgerFile
	}

	cfg.Database.URL = os.ExpandEnv(cfg.Database.URL)
}
