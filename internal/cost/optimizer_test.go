package cost

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

func newOptimizer(t *testing.T, budget float64, now *time.Time) *Optimizer {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MonthlyBudget = budget
	o, err := NewOptimizer(cfg, WithClock(func() time.Time { return *now }))
	require.NoError(t, err)
	return o
}

func TestEstimateCost(t *testing.T) {
	now := testNow
	o := newOptimizer(t, 100, &now)

	est := o.EstimateCost(strings.Repeat("x", 400), 200)

	assert.Equal(t, 100, est.PromptTokens)
	assert.Equal(t, 200, est.CompletionTokens)
	assert.Equal(t, 300, est.TotalTokens)
	assert.InDelta(t, 0.0006, est.EstimatedCost, 1e-12)
	assert.True(t, est.WithinBudget)
	assert.Equal(t, "Within budget", est.Recommendation)
}

func TestEstimateCost_RoundsTokensUp(t *testing.T) {
	now := testNow
	o := newOptimizer(t, 100, &now)

	assert.Equal(t, 1, o.EstimateTokens("abc"))
	assert.Equal(t, 2, o.EstimateTokens("abcde"))
	assert.Equal(t, 0, o.EstimateTokens(""))
	// Characters, not bytes.
	assert.Equal(t, 1, o.EstimateTokens("żółw"))
}

func TestEstimateCost_DoesNotTouchLedger(t *testing.T) {
	now := testNow
	o := newOptimizer(t, 100, &now)

	for i := 0; i < 5; i++ {
		o.EstimateCost(strings.Repeat("x", 4000), 1000)
	}

	assert.Empty(t, o.Ledger())
	assert.Zero(t, o.CheckBudgetLimit().Spent)
}

func TestEstimateCost_LargePromptRecommendation(t *testing.T) {
	now := testNow
	o := newOptimizer(t, 100, &now)

	est := o.EstimateCost(strings.Repeat("x", 4*5000), 100)

	assert.True(t, est.WithinBudget)
	assert.Contains(t, est.Recommendation, "reduce prompt size")
}

func TestEstimateCost_OverBudget(t *testing.T) {
	now := testNow
	o := newOptimizer(t, 0.001, &now)

	est := o.EstimateCost(strings.Repeat("x", 4000), 1000)

	assert.False(t, est.WithinBudget)
	assert.Contains(t, est.Recommendation, "exceeds remaining budget")
}

func TestEstimateCostForModel_UsesPricing(t *testing.T) {
	now := testNow
	cfg := DefaultConfig()
	cfg.Pricing = map[string]ModelPricing{
		"claude-sonnet": {InputPer1K: 0.003, OutputPer1K: 0.015},
	}
	o, err := NewOptimizer(cfg, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	priced := o.EstimateCostForModel("claude-sonnet", strings.Repeat("x", 4000), 1000)
	flat := o.EstimateCostForModel("unknown-model", strings.Repeat("x", 4000), 1000)

	assert.InDelta(t, 0.003+0.015, priced.EstimatedCost, 1e-12)
	assert.InDelta(t, 0.004, flat.EstimatedCost, 1e-12)
}

func TestTrackTokenUsage(t *testing.T) {
	now := testNow
	o := newOptimizer(t, 10, &now)

	entry := o.TrackTokenUsage(Request{TestID: "t1", Prompt: strings.Repeat("x", 400)}, Response{CompletionTokens: 400})
	assert.Equal(t, 100, entry.PromptTokens)
	assert.Equal(t, 500, entry.TotalTokens)
	assert.InDelta(t, 0.001, entry.Cost, 1e-12)

	o.TrackTokenUsage(Request{TestID: "t2"}, Response{PromptTokens: 10, CompletionTokens: 10, Cost: 0.5})

	status := o.CheckBudgetLimit()
	assert.InDelta(t, 0.501, status.Spent, 1e-12)
	assert.InDelta(t, 9.499, status.Remaining, 1e-12)
	assert.Len(t, o.Ledger(), 2)
}

func TestCheckBudgetLimit_WarningThreshold(t *testing.T) {
	now := testNow
	o := newOptimizer(t, 1, &now)

	o.TrackTokenUsage(Request{}, Response{Cost: 0.5})
	status := o.CheckBudgetLimit()
	assert.Equal(t, 50.0, status.PercentUsed)
	assert.False(t, status.AtWarningThreshold)

	o.TrackTokenUsage(Request{}, Response{Cost: 0.25})
	assert.False(t, o.CheckBudgetLimit().AtWarningThreshold)

	o.TrackTokenUsage(Request{}, Response{Cost: 0.125})
	status = o.CheckBudgetLimit()
	assert.Equal(t, 87.5, status.PercentUsed)
	assert.True(t, status.AtWarningThreshold)
}

func TestCheckBudgetLimit_ExactlyAtThreshold(t *testing.T) {
	now := testNow
	o := newOptimizer(t, 1, &now)

	o.TrackTokenUsage(Request{}, Response{Cost: 0.8})

	assert.True(t, o.CheckBudgetLimit().AtWarningThreshold)
}

func TestCheckBudgetLimit_ZeroBudget(t *testing.T) {
	now := testNow
	o := newOptimizer(t, 0, &now)

	status := o.CheckBudgetLimit()
	assert.Equal(t, 100.0, status.PercentUsed)
	assert.True(t, status.AtWarningThreshold)
	assert.Zero(t, status.Remaining)
}

func TestCheckBudgetLimit_MonthRollover(t *testing.T) {
	now := testNow
	o := newOptimizer(t, 1, &now)
	o.TrackTokenUsage(Request{}, Response{Cost: 0.9})
	require.True(t, o.CheckBudgetLimit().AtWarningThreshold)

	now = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	status := o.CheckBudgetLimit()
	assert.Zero(t, status.Spent)
	assert.Equal(t, 1.0, status.Remaining)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), status.ResetDate)
	assert.Len(t, o.Ledger(), 1, "old entries stay in the ledger")
}

func TestReserve(t *testing.T) {
	now := testNow
	o := newOptimizer(t, 1, &now)

	r, err := o.Reserve(0.75)
	require.NoError(t, err)

	status := o.CheckBudgetLimit()
	assert.Equal(t, 0.75, status.Reserved)
	assert.Equal(t, 0.25, status.Remaining)
	assert.Zero(t, status.Spent)

	_, err = o.Reserve(0.5)
	require.Error(t, err)
	assert.True(t, IsBudgetExceeded(err))
	assert.True(t, IsBudgetExceeded(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsBudgetExceeded(errors.New("other")))

	o.Commit(r, Request{TestID: "t1"}, Response{Cost: 0.5})
	status = o.CheckBudgetLimit()
	assert.Zero(t, status.Reserved)
	assert.Equal(t, 0.5, status.Spent)
	assert.Equal(t, 0.5, status.Remaining)
}

func TestRelease(t *testing.T) {
	now := testNow
	o := newOptimizer(t, 1, &now)

	r, err := o.Reserve(1)
	require.NoError(t, err)
	o.Release(r)
	o.Release(nil)

	status := o.CheckBudgetLimit()
	assert.Equal(t, 1.0, status.Remaining)
	assert.Empty(t, o.Ledger())
}

func TestReserve_ConcurrentWorkersCannotOverspend(t *testing.T) {
	now := testNow
	o := newOptimizer(t, 1, &now)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := o.Reserve(0.125)
			if err != nil {
				return
			}
			o.Commit(r, Request{}, Response{Cost: 0.125})
			mu.Lock()
			granted++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, granted)
	assert.Equal(t, 1.0, o.CheckBudgetLimit().Spent)
}

func TestBudgetExceededError_Message(t *testing.T) {
	err := &BudgetExceededError{Limit: 100, Spent: 99.5, Requested: 1, ResetDate: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}

	assert.Equal(t, "budget exceeded: $1.0000 requested, $99.5000 of $100.00 already committed this month (resets: 2026-05-01)", err.Error())
}

func TestNewOptimizer_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative budget", func(c *Config) { c.MonthlyBudget = -1 }},
		{"zero threshold", func(c *Config) { c.WarningThreshold = 0 }},
		{"threshold above one", func(c *Config) { c.WarningThreshold = 1.5 }},
		{"negative rate", func(c *Config) { c.RatePer1KTokens = -0.1 }},
		{"zero chars per token", func(c *Config) { c.CharsPerToken = 0 }},
		{"negative pricing", func(c *Config) { c.Pricing = map[string]ModelPricing{"m": {InputPer1K: -1}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewOptimizer(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestGenerateCostReport(t *testing.T) {
	now := testNow // day 10 of a 30 day month
	o := newOptimizer(t, 10, &now)

	o.TrackTokenUsage(Request{Model: "gpt"}, Response{PromptTokens: 100, CompletionTokens: 100, Cost: 2})
	o.TrackTokenUsage(Request{Model: "claude"}, Response{PromptTokens: 100, CompletionTokens: 100, Cost: 3})

	r := o.GenerateCostReport()

	assert.Equal(t, 5.0, r.TotalCost)
	assert.Equal(t, 5.0, r.MonthlySpend)
	assert.Equal(t, 400, r.TotalTokens)
	assert.Equal(t, 2, r.Requests)
	assert.InDelta(t, 0.5, r.Trends.DailyAverage, 1e-12)
	assert.InDelta(t, 15.0, r.Trends.ProjectedMonthly, 1e-12)
	require.Len(t, r.ByModel, 2)
	assert.Equal(t, "claude", r.ByModel[0].Model)

	joined := strings.Join(r.Suggestions, "\n")
	assert.Contains(t, joined, "enable caching")
	assert.Contains(t, joined, "cheaper model")
	assert.NotContains(t, joined, "rule-based strategy")
}

func TestGenerateCostReport_Empty(t *testing.T) {
	now := testNow
	o := newOptimizer(t, 10, &now)

	r := o.GenerateCostReport()

	assert.Zero(t, r.TotalCost)
	assert.Zero(t, r.Trends.ProjectedMonthly)
	assert.Empty(t, r.Suggestions)
	assert.NotNil(t, r.Suggestions)
}

func TestGenerateCostReport_LargePrompts(t *testing.T) {
	now := testNow
	o := newOptimizer(t, 1000, &now)
	o.TrackTokenUsage(Request{}, Response{PromptTokens: 9000, CompletionTokens: 1000, Cost: 0.01})

	r := o.GenerateCostReport()

	assert.Contains(t, strings.Join(r.Suggestions, "\n"), "lower the token budget per prompt")
}

func TestLedgerPersistence(t *testing.T) {
	now := testNow
	path := filepath.Join(t.TempDir(), "ledger.json")

	src := newOptimizer(t, 1, &now)
	src.TrackTokenUsage(Request{Model: "m", TestID: "t1"}, Response{PromptTokens: 10, CompletionTokens: 20, Cost: 0.25})
	require.NoError(t, src.SaveLedger(path))

	dst := newOptimizer(t, 1, &now)
	require.NoError(t, dst.LoadLedger(path))

	require.Len(t, dst.Ledger(), 1)
	assert.Equal(t, "t1", dst.Ledger()[0].TestID)
	assert.Equal(t, 0.25, dst.CheckBudgetLimit().Spent)
}

func TestLoadLedger_MissingFile(t *testing.T) {
	now := testNow
	o := newOptimizer(t, 1, &now)
	o.TrackTokenUsage(Request{}, Response{Cost: 0.1})

	require.NoError(t, o.LoadLedger(filepath.Join(t.TempDir(), "none.json")))
	assert.Empty(t, o.Ledger())
}

func TestLoadLedger_Corrupt(t *testing.T) {
	now := testNow
	o := newOptimizer(t, 1, &now)
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte("["), 0o644))

	err := o.LoadLedger(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to load ledger")
}
