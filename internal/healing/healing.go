// Package healing drives the repair of a batch of failed tests: cache
// lookup, budget clearance, regeneration under retry, and bookkeeping.
package healing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kamilpajak/heisenberg-heal/internal/metrics"
	"github.com/kamilpajak/heisenberg-heal/pkg/models"
)

var (
	// ErrInvalidConfig is returned when an orchestrator configuration cannot be used.
	ErrInvalidConfig = errors.New("invalid healing config")
	// ErrNoFix is wrapped by regenerators that can tell no attempt will
	// ever produce a fix. The orchestrator stops retrying on it.
	ErrNoFix = errors.New("no fix available")
)

// Outcome reasons recorded in metrics and results.
const (
	ReasonBudgetExceeded = "budget-exceeded"
	ReasonDeadline       = "max-total-time-exceeded"
	ReasonCancelled      = "cancelled"
)

// FailureAnalyzer diagnoses a failed test.
type FailureAnalyzer interface {
	Analyze(ctx context.Context, test models.FailedTest) (*models.FailureAnalysis, error)
}

// TestRegenerator proposes repaired test code. Strategy labels its repairs
// in metrics; only ai-powered regenerators are charged against the budget.
type TestRegenerator interface {
	Regenerate(ctx context.Context, rc models.RegenerationContext) (*models.Regeneration, error)
	Strategy() models.Strategy
}

// PromptBuilder renders the prompt a regenerator would send, for estimating
// cost before the call.
type PromptBuilder func(rc models.RegenerationContext) string

// AttemptSink receives every sealed attempt, e.g. for durable storage.
type AttemptSink interface {
	SaveAttempt(ctx context.Context, a metrics.Attempt) error
}

// Config controls a healing batch.
type Config struct {
	MaxAttemptsPerTest int           `yaml:"max_attempts_per_test" json:"max_attempts_per_test"`
	MaxTotalTime       time.Duration `yaml:"max_total_time" json:"max_total_time"` // 0 disables the batch deadline
	MinConfidence      float64       `yaml:"min_confidence" json:"min_confidence"`
	AutoRetry          bool          `yaml:"auto_retry" json:"auto_retry"`
	Concurrency        int           `yaml:"concurrency" json:"concurrency"`

	// Strategy selects the primary regenerator when wired from config.
	Strategy                 models.Strategy `yaml:"strategy" json:"strategy"`
	FallbackOnBudget         bool            `yaml:"fallback_on_budget" json:"fallback_on_budget"`
	ExpectedCompletionTokens int             `yaml:"expected_completion_tokens" json:"expected_completion_tokens"`
	RegenerationTimeout      time.Duration   `yaml:"regeneration_timeout" json:"regeneration_timeout"`
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttemptsPerTest:       3,
		MaxTotalTime:             10 * time.Minute,
		MinConfidence:            0.7,
		AutoRetry:                true,
		Concurrency:              4,
		Strategy:                 models.StrategyRuleBased,
		FallbackOnBudget:         true,
		ExpectedCompletionTokens: 1000,
		RegenerationTimeout:      2 * time.Minute,
	}
}

// Validate rejects unusable values.
func (c Config) Validate() error {
	switch {
	case c.MaxAttemptsPerTest < 1:
		return fmt.Errorf("%w: max_attempts_per_test must be >= 1, got %d", ErrInvalidConfig, c.MaxAttemptsPerTest)
	case c.MaxTotalTime < 0:
		return fmt.Errorf("%w: max_total_time must be >= 0, got %s", ErrInvalidConfig, c.MaxTotalTime)
	case c.MinConfidence < 0 || c.MinConfidence > 1:
		return fmt.Errorf("%w: min_confidence must be within [0, 1], got %g", ErrInvalidConfig, c.MinConfidence)
	case c.Concurrency < 1:
		return fmt.Errorf("%w: concurrency must be >= 1, got %d", ErrInvalidConfig, c.Concurrency)
	case c.ExpectedCompletionTokens < 0:
		return fmt.Errorf("%w: expected_completion_tokens must be >= 0", ErrInvalidConfig)
	case c.RegenerationTimeout < 0:
		return fmt.Errorf("%w: regeneration_timeout must be >= 0", ErrInvalidConfig)
	}
	switch c.Strategy {
	case models.StrategyAIPowered, models.StrategyRuleBased, models.StrategyFallback:
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.Strategy)
	}
	return nil
}
