package healing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamilpajak/heisenberg-heal/internal/cache"
	"github.com/kamilpajak/heisenberg-heal/internal/cost"
	"github.com/kamilpajak/heisenberg-heal/internal/metrics"
	"github.com/kamilpajak/heisenberg-heal/internal/retry"
	"github.com/kamilpajak/heisenberg-heal/pkg/models"
)

type step struct {
	regen *models.Regeneration
	err   error
}

type fakeRegenerator struct {
	strategy models.Strategy
	steps    []step
	fn       func(rc models.RegenerationContext) (*models.Regeneration, error)

	mu       sync.Mutex
	calls    int
	contexts []models.RegenerationContext
}

func (f *fakeRegenerator) Strategy() models.Strategy { return f.strategy }

func (f *fakeRegenerator) Regenerate(_ context.Context, rc models.RegenerationContext) (*models.Regeneration, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.contexts = append(f.contexts, rc)
	f.mu.Unlock()

	if f.fn != nil {
		return f.fn(rc)
	}
	if idx >= len(f.steps) {
		idx = len(f.steps) - 1
	}
	s := f.steps[idx]
	if s.regen == nil {
		return nil, s.err
	}
	cp := *s.regen
	return &cp, s.err
}

func (f *fakeRegenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAnalyzer struct {
	analysis *models.FailureAnalysis
	err      error
}

func (f fakeAnalyzer) Analyze(context.Context, models.FailedTest) (*models.FailureAnalysis, error) {
	return f.analysis, f.err
}

type recordingSink struct {
	mu       sync.Mutex
	attempts []metrics.Attempt
}

func (s *recordingSink) SaveAttempt(_ context.Context, a metrics.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, a)
	return nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func confident(code string) *models.Regeneration {
	return &models.Regeneration{FixedCode: code, Confidence: 0.9}
}

func aiRegenerator(steps ...step) *fakeRegenerator {
	return &fakeRegenerator{strategy: models.StrategyAIPowered, steps: steps}
}

func newComponents(t *testing.T, costCfg cost.Config) Components {
	t.Helper()
	store, err := cache.New[models.RepairPayload](cache.DefaultConfig())
	require.NoError(t, err)
	optimizer, err := cost.NewOptimizer(costCfg)
	require.NoError(t, err)
	m, err := metrics.New(metrics.DefaultConfig())
	require.NoError(t, err)
	handler, err := retry.NewHandler(retry.Config{MaxRetries: 5, BackoffMultiplier: 1},
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }))
	require.NoError(t, err)
	return Components{Cache: store, Cost: optimizer, Metrics: m, Retry: handler}
}

func newOrchestrator(t *testing.T, cfg Config, regen TestRegenerator, opts ...Option) (*Orchestrator, Components) {
	t.Helper()
	c := newComponents(t, cost.DefaultConfig())
	o, err := NewOrchestrator(cfg, regen, c, opts...)
	require.NoError(t, err)
	return o, c
}

func failedTest(id, code string) models.FailedTest {
	return models.FailedTest{
		ID:           id,
		Name:         "test " + id,
		FailureType:  models.FailureTimeout,
		ErrorMessage: "Timeout 5000ms exceeded.",
		TestCode:     code,
	}
}

func TestHeal_RepeatedEndpointFailure(t *testing.T) {
	regen := aiRegenerator(step{regen: &models.Regeneration{
		FixedCode:        "await page.getByRole('button').click();",
		Confidence:       0.9,
		PromptTokens:     200,
		CompletionTokens: 300,
		TokensUsed:       500,
		EstimatedCost:    0.02,
	}})
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	o, c := newOrchestrator(t, cfg, regen)

	tests := []models.FailedTest{
		failedTest("orders-1", "await page.click('#pay');"),
		failedTest("orders-2", "await page.click('#checkout');"),
		failedTest("orders-3", "await page.click('#pay');"),
	}
	report, err := o.Heal(context.Background(), tests, "- /orders\n+ /v2/orders")
	require.NoError(t, err)

	require.Len(t, report.SuccessfullyHealed, 3)
	assert.Empty(t, report.FailedHealing)
	assert.Equal(t, 3, report.HealingAttempts)
	assert.Equal(t, 2, regen.callCount())

	third := report.SuccessfullyHealed[2]
	assert.Equal(t, models.OutcomeCached, third.Outcome)
	assert.True(t, third.CacheHit)
	assert.Equal(t, "await page.getByRole('button').click();", third.FixedCode)
	assert.Equal(t, models.OutcomeHealed, report.SuccessfullyHealed[0].Outcome)

	assert.InDelta(t, 1.0/3, c.Cache.GetCacheStats().HitRate, 1e-9)
	ai := c.Metrics.GetAIUsageStats()
	assert.Equal(t, 3, ai.TimesUsed)
	assert.InDelta(t, 33.3, ai.CacheHitRate, 0.1)
	assert.InDelta(t, 0.04, ai.TotalCost, 1e-9)
	assert.InDelta(t, 0.04, c.Cost.CheckBudgetLimit().Spent, 1e-9)
}

func TestHeal_LowConfidenceRetried(t *testing.T) {
	regen := aiRegenerator(
		step{regen: &models.Regeneration{FixedCode: "guess", Confidence: 0.4}},
		step{regen: confident("fixed")},
	)
	o, c := newOrchestrator(t, DefaultConfig(), regen)

	report, err := o.Heal(context.Background(), []models.FailedTest{failedTest("t1", "code")}, "")
	require.NoError(t, err)

	require.Len(t, report.SuccessfullyHealed, 1)
	res := report.SuccessfullyHealed[0]
	assert.Equal(t, "fixed", res.FixedCode)
	assert.Len(t, res.AttemptIDs, 2)
	assert.Equal(t, 2, report.HealingAttempts)

	require.Len(t, regen.contexts, 2)
	assert.Equal(t, 1, regen.contexts[1].Attempt)
	assert.Equal(t, "confidence 0.40 below 0.70", regen.contexts[1].PreviousError)

	first, ok := c.Metrics.Attempt(res.AttemptIDs[0])
	require.True(t, ok)
	assert.False(t, first.Success)
	assert.Equal(t, "confidence 0.40 below 0.70", first.FailureReason)
	assert.InDelta(t, 50, c.Metrics.CalculateSuccessRate(), 1e-9)
	assert.True(t, c.Retry.IsFlaky("heal:t1"))
}

func TestHeal_PermanentFailure(t *testing.T) {
	regen := aiRegenerator(step{err: errors.New("model overloaded")})
	o, c := newOrchestrator(t, DefaultConfig(), regen)

	report, err := o.Heal(context.Background(), []models.FailedTest{failedTest("t1", "code")}, "")
	require.NoError(t, err)

	require.Len(t, report.FailedHealing, 1)
	res := report.FailedHealing[0]
	assert.Equal(t, models.OutcomeFailed, res.Outcome)
	assert.Equal(t, "model overloaded", res.Reason)
	assert.Equal(t, 3, regen.callCount())
	assert.Len(t, res.AttemptIDs, 3)
	assert.True(t, c.Retry.IsPermanentFailure("heal:t1"))
	assert.Zero(t, c.Cache.Size())
	assert.Zero(t, c.Cost.CheckBudgetLimit().Reserved, "reservations released")
}

func TestHeal_NoFixStopsRetrying(t *testing.T) {
	regen := &fakeRegenerator{
		strategy: models.StrategyRuleBased,
		steps:    []step{{err: fmt.Errorf("no rule for assertion: %w", ErrNoFix)}},
	}
	o, _ := newOrchestrator(t, DefaultConfig(), regen)

	report, err := o.Heal(context.Background(), []models.FailedTest{failedTest("t1", "code")}, "")
	require.NoError(t, err)
	require.Len(t, report.FailedHealing, 1)
	assert.Equal(t, 1, regen.callCount())
}

func TestHeal_AutoRetryDisabled(t *testing.T) {
	regen := aiRegenerator(
		step{regen: &models.Regeneration{FixedCode: "guess", Confidence: 0.4}},
		step{regen: confident("fixed")},
	)
	cfg := DefaultConfig()
	cfg.AutoRetry = false
	o, _ := newOrchestrator(t, cfg, regen)

	report, err := o.Heal(context.Background(), []models.FailedTest{failedTest("t1", "code")}, "")
	require.NoError(t, err)
	require.Len(t, report.FailedHealing, 1)
	assert.Equal(t, 1, regen.callCount())
	assert.Equal(t, "confidence 0.40 below 0.70", report.FailedHealing[0].Reason)
}

func TestHeal_RegeneratorPanic(t *testing.T) {
	for _, autoRetry := range []bool{true, false} {
		t.Run(fmt.Sprintf("auto_retry=%t", autoRetry), func(t *testing.T) {
			regen := &fakeRegenerator{
				strategy: models.StrategyAIPowered,
				fn: func(models.RegenerationContext) (*models.Regeneration, error) {
					panic("provider client bug")
				},
			}
			cfg := DefaultConfig()
			cfg.AutoRetry = autoRetry
			o, c := newOrchestrator(t, cfg, regen)

			report, err := o.Heal(context.Background(), []models.FailedTest{
				failedTest("t1", "code"),
				failedTest("t2", "other code"),
			}, "")
			require.NoError(t, err)
			require.Len(t, report.FailedHealing, 2)
			assert.Contains(t, report.FailedHealing[0].Reason, "regenerator panicked: provider client bug")

			wantCalls := 2
			if autoRetry {
				wantCalls = 2 * cfg.MaxAttemptsPerTest
			}
			assert.Equal(t, wantCalls, regen.callCount())
			assert.Equal(t, wantCalls, report.HealingAttempts)

			attempts := c.Metrics.Attempts()
			require.Len(t, attempts, wantCalls)
			for _, a := range attempts {
				assert.True(t, a.Sealed)
				assert.False(t, a.Success)
			}
			assert.Zero(t, c.Cost.CheckBudgetLimit().Reserved)
			assert.Empty(t, c.Cost.Ledger())
		})
	}
}

func TestHeal_MaxAttemptsWithDefaultRetry(t *testing.T) {
	store, err := cache.New[models.RepairPayload](cache.DefaultConfig())
	require.NoError(t, err)
	optimizer, err := cost.NewOptimizer(cost.DefaultConfig())
	require.NoError(t, err)
	m, err := metrics.New(metrics.DefaultConfig())
	require.NoError(t, err)
	handler, err := retry.NewHandler(retry.DefaultConfig(),
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }))
	require.NoError(t, err)
	c := Components{Cache: store, Cost: optimizer, Metrics: m, Retry: handler}

	regen := aiRegenerator(step{regen: &models.Regeneration{FixedCode: "guess", Confidence: 0.1}})
	cfg := DefaultConfig()
	cfg.MaxAttemptsPerTest = retry.DefaultConfig().MaxRetries + 1

	o, err := NewOrchestrator(cfg, regen, c)
	require.NoError(t, err)
	report, err := o.Heal(context.Background(), []models.FailedTest{failedTest("t1", "code")}, "")
	require.NoError(t, err)
	require.Len(t, report.FailedHealing, 1)
	assert.Equal(t, cfg.MaxAttemptsPerTest, regen.callCount())

	cfg.MaxAttemptsPerTest++
	_, err = NewOrchestrator(cfg, regen, c)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg.AutoRetry = false
	_, err = NewOrchestrator(cfg, regen, c)
	assert.NoError(t, err)
}

func TestHeal_BudgetExceeded(t *testing.T) {
	regen := aiRegenerator(step{regen: confident("fixed")})
	costCfg := cost.DefaultConfig()
	costCfg.MonthlyBudget = 0
	c := newComponents(t, costCfg)
	o, err := NewOrchestrator(DefaultConfig(), regen, c)
	require.NoError(t, err)

	report, err := o.Heal(context.Background(), []models.FailedTest{failedTest("t1", "code")}, "")
	require.NoError(t, err)

	require.Len(t, report.FailedHealing, 1)
	res := report.FailedHealing[0]
	assert.Equal(t, models.OutcomeBudgetExceeded, res.Outcome)
	assert.Equal(t, ReasonBudgetExceeded, res.Reason)
	assert.Equal(t, models.StrategyFallback, res.Strategy)
	assert.Zero(t, regen.callCount())

	a, ok := c.Metrics.Attempt(res.AttemptIDs[0])
	require.True(t, ok)
	assert.False(t, a.Success)
	assert.Equal(t, ReasonBudgetExceeded, a.FailureReason)
	assert.Equal(t, models.StrategyFallback, a.Strategy)
	assert.Equal(t, 1, c.Metrics.GetFallbackUsageStats().Reasons[ReasonBudgetExceeded])
	assert.Empty(t, c.Cost.Ledger())
}

func TestHeal_BudgetExceededUsesFallback(t *testing.T) {
	regen := aiRegenerator(step{regen: confident("ai fix")})
	fallback := &fakeRegenerator{
		strategy: models.StrategyFallback,
		steps:    []step{{regen: &models.Regeneration{FixedCode: "rule fix", Confidence: 0.75}}},
	}
	costCfg := cost.DefaultConfig()
	costCfg.MonthlyBudget = 0
	c := newComponents(t, costCfg)
	o, err := NewOrchestrator(DefaultConfig(), regen, c, WithFallback(fallback))
	require.NoError(t, err)

	report, err := o.Heal(context.Background(), []models.FailedTest{failedTest("t1", "code")}, "")
	require.NoError(t, err)

	require.Len(t, report.SuccessfullyHealed, 1)
	res := report.SuccessfullyHealed[0]
	assert.Equal(t, "rule fix", res.FixedCode)
	assert.Equal(t, models.StrategyFallback, res.Strategy)
	assert.Zero(t, regen.callCount())
	assert.Equal(t, 1, fallback.callCount())

	fb := c.Metrics.GetFallbackUsageStats()
	assert.Equal(t, 1, fb.TimesUsed)
	assert.Equal(t, 1, fb.Reasons[ReasonBudgetExceeded])
	assert.Empty(t, c.Cost.Ledger())

	summary := c.Metrics.GenerateSummary()
	assert.Contains(t, summary.Warnings, "Budget exhausted: 1 repairs fell back to non-AI strategies")
}

func TestHeal_CommitsActualUsage(t *testing.T) {
	regen := aiRegenerator(step{regen: &models.Regeneration{
		FixedCode:        "fixed",
		Confidence:       0.8,
		Model:            "gpt-test",
		PromptTokens:     1000,
		CompletionTokens: 500,
	}})
	o, c := newOrchestrator(t, DefaultConfig(), regen, WithModel("fallback-model"))

	report, err := o.Heal(context.Background(), []models.FailedTest{failedTest("t1", "code")}, "")
	require.NoError(t, err)
	require.Len(t, report.SuccessfullyHealed, 1)

	ledger := c.Cost.Ledger()
	require.Len(t, ledger, 1)
	assert.Equal(t, "gpt-test", ledger[0].Model)
	assert.Equal(t, "t1", ledger[0].TestID)
	assert.InDelta(t, 0.003, ledger[0].Cost, 1e-9)

	a, _ := c.Metrics.Attempt(report.SuccessfullyHealed[0].AttemptIDs[0])
	assert.Equal(t, 1500, a.TokensUsed)
	assert.InDelta(t, 0.003, a.EstimatedCost, 1e-9)
	assert.Zero(t, c.Cost.CheckBudgetLimit().Reserved)
}

func TestHeal_RuleBasedIsNotCharged(t *testing.T) {
	regen := &fakeRegenerator{strategy: models.StrategyRuleBased, steps: []step{{regen: confident("fixed")}}}
	costCfg := cost.DefaultConfig()
	costCfg.MonthlyBudget = 0
	c := newComponents(t, costCfg)
	o, err := NewOrchestrator(DefaultConfig(), regen, c)
	require.NoError(t, err)

	report, err := o.Heal(context.Background(), []models.FailedTest{failedTest("t1", "code")}, "")
	require.NoError(t, err)
	require.Len(t, report.SuccessfullyHealed, 1)
	assert.Equal(t, models.StrategyRuleBased, report.SuccessfullyHealed[0].Strategy)
	assert.Empty(t, c.Cost.Ledger())
}

func TestHeal_DeadlineSkipsRemainingTests(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	regen := &fakeRegenerator{
		strategy: models.StrategyRuleBased,
		fn: func(models.RegenerationContext) (*models.Regeneration, error) {
			clk.Advance(2 * time.Minute)
			return confident("fixed"), nil
		},
	}
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.MaxTotalTime = time.Minute
	o, _ := newOrchestrator(t, cfg, regen, WithClock(clk.Now))

	report, err := o.Heal(context.Background(), []models.FailedTest{
		failedTest("t1", "a"), failedTest("t2", "b"), failedTest("t3", "c"),
	}, "")
	require.NoError(t, err)

	require.Len(t, report.SuccessfullyHealed, 1, "the in-flight repair is allowed to finish")
	require.Len(t, report.Skipped, 2)
	for _, r := range report.Skipped {
		assert.Equal(t, models.OutcomeSkipped, r.Outcome)
		assert.Equal(t, ReasonDeadline, r.Reason)
		assert.Empty(t, r.AttemptIDs)
	}
	assert.Equal(t, 1, regen.callCount())
	assert.Equal(t, 2*time.Minute, report.TotalTime)
}

func TestHeal_ConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	regen := &fakeRegenerator{
		strategy: models.StrategyRuleBased,
		fn: func(models.RegenerationContext) (*models.Regeneration, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return confident("fixed"), nil
		},
	}
	cfg := DefaultConfig()
	cfg.Concurrency = 2
	o, c := newOrchestrator(t, cfg, regen)

	var tests []models.FailedTest
	for i := 0; i < 6; i++ {
		tests = append(tests, failedTest(fmt.Sprintf("t%d", i), fmt.Sprintf("code %d", i)))
	}
	report, err := o.Heal(context.Background(), tests, "")
	require.NoError(t, err)

	assert.Len(t, report.SuccessfullyHealed, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 6, c.Cache.Size())
	for i, r := range report.SuccessfullyHealed {
		assert.Equal(t, fmt.Sprintf("t%d", i), r.TestID, "results keep input order")
	}
}

func TestHeal_SerializesSameTest(t *testing.T) {
	var inFlight, peak atomic.Int32
	regen := &fakeRegenerator{
		strategy: models.StrategyRuleBased,
		fn: func(models.RegenerationContext) (*models.Regeneration, error) {
			n := inFlight.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return confident("fixed"), nil
		},
	}
	cfg := DefaultConfig()
	cfg.Concurrency = 4
	o, _ := newOrchestrator(t, cfg, regen)

	report, err := o.Heal(context.Background(), []models.FailedTest{
		failedTest("same", "code"), failedTest("same", "code"),
	}, "")
	require.NoError(t, err)

	require.Len(t, report.SuccessfullyHealed, 2)
	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 1, regen.callCount(), "second run is served from cache")

	outcomes := []models.HealingOutcome{report.SuccessfullyHealed[0].Outcome, report.SuccessfullyHealed[1].Outcome}
	assert.ElementsMatch(t, []models.HealingOutcome{models.OutcomeHealed, models.OutcomeCached}, outcomes)
	assert.Empty(t, o.locks)
}

func TestHeal_UsesAnalysis(t *testing.T) {
	regen := &fakeRegenerator{strategy: models.StrategyRuleBased, steps: []step{{regen: confident("fixed")}}}
	analysis := &models.FailureAnalysis{FailureType: models.FailureSelector, RootCause: "button renamed"}
	o, c := newOrchestrator(t, DefaultConfig(), regen, WithAnalyzer(fakeAnalyzer{analysis: analysis}))

	test := failedTest("t1", "code")
	test.FailureType = models.FailureUnknown
	report, err := o.Heal(context.Background(), []models.FailedTest{test}, "")
	require.NoError(t, err)

	require.Len(t, regen.contexts, 1)
	assert.Equal(t, analysis, regen.contexts[0].Analysis)
	a, _ := c.Metrics.Attempt(report.SuccessfullyHealed[0].AttemptIDs[0])
	assert.Equal(t, models.FailureSelector, a.FailureType)
}

func TestHeal_AnalyzerErrorIsNotFatal(t *testing.T) {
	regen := &fakeRegenerator{strategy: models.StrategyRuleBased, steps: []step{{regen: confident("fixed")}}}
	o, _ := newOrchestrator(t, DefaultConfig(), regen, WithAnalyzer(fakeAnalyzer{err: errors.New("llm down")}))

	report, err := o.Heal(context.Background(), []models.FailedTest{failedTest("t1", "code")}, "")
	require.NoError(t, err)
	require.Len(t, report.SuccessfullyHealed, 1)
	assert.Nil(t, regen.contexts[0].Analysis)
}

func TestHeal_CancelledContext(t *testing.T) {
	regen := aiRegenerator(step{regen: confident("fixed")})
	o, _ := newOrchestrator(t, DefaultConfig(), regen)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := o.Heal(ctx, []models.FailedTest{failedTest("t1", "a"), failedTest("t2", "b")}, "")
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Len(t, report.Skipped, 2)
	assert.Equal(t, ReasonCancelled, report.Skipped[0].Reason)
	assert.Zero(t, regen.callCount())
}

func TestHeal_AttemptSink(t *testing.T) {
	sink := &recordingSink{}
	regen := aiRegenerator(
		step{err: errors.New("flaky provider")},
		step{regen: confident("fixed")},
	)
	o, _ := newOrchestrator(t, DefaultConfig(), regen, WithAttemptSink(sink))

	_, err := o.Heal(context.Background(), []models.FailedTest{failedTest("t1", "code")}, "")
	require.NoError(t, err)

	require.Len(t, sink.attempts, 2)
	assert.False(t, sink.attempts[0].Success)
	assert.Equal(t, "flaky provider", sink.attempts[0].FailureReason)
	assert.True(t, sink.attempts[1].Success)
	assert.True(t, sink.attempts[1].Sealed)
}

func TestHeal_EmptyBatch(t *testing.T) {
	o, _ := newOrchestrator(t, DefaultConfig(), aiRegenerator(step{regen: confident("x")}))
	report, err := o.Heal(context.Background(), nil, "")
	require.NoError(t, err)
	assert.NotNil(t, report.SuccessfullyHealed)
	assert.NotNil(t, report.FailedHealing)
	assert.Zero(t, report.HealingAttempts)
}

func TestNewOrchestrator_Requirements(t *testing.T) {
	c := newComponents(t, cost.DefaultConfig())
	regen := aiRegenerator(step{regen: confident("x")})

	_, err := NewOrchestrator(DefaultConfig(), nil, c)
	assert.Error(t, err)

	_, err = NewOrchestrator(DefaultConfig(), regen, Components{Cache: c.Cache})
	assert.Error(t, err)

	bad := DefaultConfig()
	bad.MaxAttemptsPerTest = 0
	_, err = NewOrchestrator(bad, regen, c)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero attempts", func(c *Config) { c.MaxAttemptsPerTest = 0 }},
		{"negative total time", func(c *Config) { c.MaxTotalTime = -time.Second }},
		{"confidence above one", func(c *Config) { c.MinConfidence = 1.5 }},
		{"negative confidence", func(c *Config) { c.MinConfidence = -0.1 }},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"negative completion tokens", func(c *Config) { c.ExpectedCompletionTokens = -1 }},
		{"negative timeout", func(c *Config) { c.RegenerationTimeout = -time.Second }},
		{"unknown strategy", func(c *Config) { c.Strategy = "magic" }},
	}

	require.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
