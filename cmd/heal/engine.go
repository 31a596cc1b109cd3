package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"go.uber.org/zap"

	"github.com/kamilpajak/heisenberg-heal/internal/analyzer"
	"github.com/kamilpajak/heisenberg-heal/internal/cache"
	"github.com/kamilpajak/heisenberg-heal/internal/config"
	"github.com/kamilpajak/heisenberg-heal/internal/cost"
	"github.com/kamilpajak/heisenberg-heal/internal/database"
	"github.com/kamilpajak/heisenberg-heal/internal/healing"
	"github.com/kamilpajak/heisenberg-heal/internal/llm"
	"github.com/kamilpajak/heisenberg-heal/internal/metrics"
	"github.com/kamilpajak/heisenberg-heal/internal/retry"
	"github.com/kamilpajak/heisenberg-heal/pkg/models"
)

// engine holds the wired components for one CLI invocation.
type engine struct {
	cfg     *config.Config
	log     *zap.Logger
	cache   *cache.Store[models.RepairPayload]
	cost    *cost.Optimizer
	metrics *metrics.Metrics
	retry   *retry.Handler
	orch    *healing.Orchestrator
	db      *database.DB
}

// strategy is the regenerator set selected by healing.strategy.
type strategy struct {
	primary  healing.TestRegenerator
	fallback healing.TestRegenerator
	analyzer healing.FailureAnalyzer
	prompt   healing.PromptBuilder
	model    string
}

// completerFactory is swapped in tests so no API key is needed.
var completerFactory = func(c config.LLMConfig) (llm.Completer, error) {
	var opts []llm.ClientOption
	if c.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(c.BaseURL))
	}
	if c.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(c.MaxTokens))
	}
	client, err := llm.NewFromEnv(c.Provider, c.Model, opts...)
	if err != nil {
		return nil, err
	}
	return llm.NewRateLimited(client, c.RequestsPerSecond, c.Burst), nil
}

func buildStrategy(cfg *config.Config) (strategy, error) {
	s := strategy{
		primary:  analyzer.NewRuleRegenerator(""),
		analyzer: analyzer.RuleAnalyzer{},
		prompt:   analyzer.BuildRegenerationPrompt,
	}
	if !cfg.UsesAI() {
		return s, nil
	}

	client, err := completerFactory(cfg.LLM)
	if err != nil {
		return strategy{}, fmt.Errorf("failed to create LLM client: %w", err)
	}
	if cfg.LLM.Analyze {
		s.analyzer = analyzer.NewAIAnalyzer(client)
	}
	if cfg.Healing.Strategy == models.StrategyAIPowered {
		ai := analyzer.NewAIRegenerator(client)
		s.primary = ai
		s.prompt = ai.Prompt
		s.model = ai.Model()
		if cfg.Healing.FallbackOnBudget {
			s.fallback = analyzer.NewRuleRegenerator(models.StrategyFallback)
		}
	}
	return s, nil
}

// newEngine restores persisted state and wires the orchestrator. Missing
// state files are not an error on a first run.
func newEngine(ctx context.Context, cfg *config.Config, log *zap.Logger) (*engine, error) {
	e := &engine{cfg: cfg, log: log}

	var err error
	if e.cache, err = cache.New[models.RepairPayload](cfg.Cache, cache.WithLogger(log)); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	if err := e.cache.ImportCache(cfg.Storage.CacheFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("ignoring unreadable cache file", zap.String("path", cfg.Storage.CacheFile), zap.Error(err))
	}

	if e.cost, err = cost.NewOptimizer(cfg.Cost, cost.WithLogger(log)); err != nil {
		return nil, fmt.Errorf("cost: %w", err)
	}
	if err := e.cost.LoadLedger(cfg.Storage.LedgerFile); err != nil {
		return nil, err
	}

	if e.metrics, err = metrics.New(cfg.Metrics, metrics.WithLogger(log)); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if e.retry, err = retry.NewHandler(cfg.Retry, retry.WithLogger(log)); err != nil {
		return nil, fmt.Errorf("retry: %w", err)
	}

	s, err := buildStrategy(cfg)
	if err != nil {
		return nil, err
	}

	opts := []healing.Option{
		healing.WithLogger(log),
		healing.WithAnalyzer(s.analyzer),
		healing.WithPromptBuilder(s.prompt),
	}
	if s.fallback != nil {
		opts = append(opts, healing.WithFallback(s.fallback))
	}
	if s.model != "" {
		opts = append(opts, healing.WithModel(s.model))
	}

	if cfg.Database.URL != "" {
		if err := database.Migrate(cfg.Database.URL); err != nil {
			return nil, err
		}
		if e.db, err = database.New(ctx, cfg.Database.URL); err != nil {
			return nil, err
		}
		opts = append(opts, healing.WithAttemptSink(e.db))
	}

	e.orch, err = healing.NewOrchestrator(cfg.Healing, s.primary, healing.Components{
		Cache:   e.cache,
		Cost:    e.cost,
		Metrics: e.metrics,
		Retry:   e.retry,
	}, opts...)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("healing: %w", err)
	}
	return e, nil
}

// persist writes cache, ledger and metrics history back to disk, and a
// summary snapshot to Postgres when configured. Every step is attempted.
func (e *engine) persist(ctx context.Context) error {
	var errs []error
	if err := e.cache.ExportCache(e.cfg.Storage.CacheFile); err != nil {
		errs = append(errs, err)
	}
	if err := e.cost.SaveLedger(e.cfg.Storage.LedgerFile); err != nil {
		errs = append(errs, err)
	}
	if err := e.metrics.StoreHistory(e.cfg.Storage.HistoryFile); err != nil {
		errs = append(errs, err)
	}
	if e.db != nil {
		snap := metrics.Snapshot{Timestamp: time.Now(), Summary: e.metrics.GenerateSummary()}
		if err := e.db.SaveSnapshot(context.WithoutCancel(ctx), snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *engine) Close() {
	if e.db != nil {
		e.db.Close()
	}
	_ = e.log.Sync()
}
