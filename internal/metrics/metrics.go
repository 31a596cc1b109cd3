// Package metrics keeps the ledger of healing attempts and derives success,
// cost and fallback statistics from it.
package metrics

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kamilpajak/heisenberg-heal/internal/logger"
	"github.com/kamilpajak/heisenberg-heal/pkg/models"
	"go.uber.org/zap"
)

var (
	// ErrAttemptNotFound is returned when sealing an id that was never recorded.
	ErrAttemptNotFound = errors.New("Attempt not found")
	// ErrAttemptSealed is returned when sealing an attempt a second time.
	ErrAttemptSealed = errors.New("attempt already sealed")
	// ErrInvalidConfig is returned when a metrics configuration cannot be used.
	ErrInvalidConfig = errors.New("invalid metrics config")
)

// DefaultFallbackReason buckets fallback attempts recorded without a reason.
const DefaultFallbackReason = "cost-optimization"

// Config tunes warning thresholds and report rendering.
type Config struct {
	// LowSuccessThreshold is the success rate percentage below which the
	// summary warns.
	LowSuccessThreshold float64 `yaml:"low_success_threshold" json:"low_success_threshold"`
	// PromptTokenRatio splits AI token totals into prompt and completion.
	// It is an approximation, not a measurement.
	PromptTokenRatio     float64 `yaml:"prompt_token_ratio" json:"prompt_token_ratio"`
	EnableVisualizations bool    `yaml:"visualizations" json:"visualizations"`
	// LowCacheHitRate and HighAIUsage drive the cache recommendation.
	LowCacheHitRate float64 `yaml:"low_cache_hit_rate" json:"low_cache_hit_rate"`
	HighAIUsage     int     `yaml:"high_ai_usage" json:"high_ai_usage"`
}

// DefaultConfig warns below 50% success and splits tokens 40/60.
func DefaultConfig() Config {
	return Config{
		LowSuccessThreshold:  50,
		PromptTokenRatio:     0.4,
		EnableVisualizations: true,
		LowCacheHitRate:      20,
		HighAIUsage:          5,
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	switch {
	case c.LowSuccessThreshold < 0 || c.LowSuccessThreshold > 100:
		return fmt.Errorf("%w: low_success_threshold must be in [0, 100]", ErrInvalidConfig)
	case c.PromptTokenRatio < 0 || c.PromptTokenRatio > 1:
		return fmt.Errorf("%w: prompt_token_ratio must be in [0, 1]", ErrInvalidConfig)
	case c.LowCacheHitRate < 0 || c.LowCacheHitRate > 100:
		return fmt.Errorf("%w: low_cache_hit_rate must be in [0, 100]", ErrInvalidConfig)
	case c.HighAIUsage < 0:
		return fmt.Errorf("%w: high_ai_usage must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// Attempt is one unit of repair work. It is open until sealed by
// RecordSuccess or RecordFailure, and only sealed attempts are counted.
type Attempt struct {
	ID             string             `json:"id"`
	TestID         string             `json:"test_id"`
	TestName       string             `json:"test_name,omitempty"`
	FailureType    models.FailureType `json:"failure_type"`
	StartTime      time.Time          `json:"start_time"`
	EndTime        time.Time          `json:"end_time"`
	Sealed         bool               `json:"sealed"`
	Success        bool               `json:"success"`
	Duration       time.Duration      `json:"duration"`
	Strategy       models.Strategy    `json:"strategy"`
	TokensUsed     int                `json:"tokens_used"`
	EstimatedCost  float64            `json:"estimated_cost"`
	CacheHit       bool               `json:"cache_hit"`
	FailureReason  string             `json:"failure_reason,omitempty"`
	FallbackReason string             `json:"fallback_reason,omitempty"`
}

// Extra carries optional details supplied when an attempt is sealed.
type Extra struct {
	Strategy       models.Strategy
	TokensUsed     int
	EstimatedCost  float64
	CacheHit       bool
	FallbackReason string
	// Duration overrides the wall-clock time for failures.
	Duration time.Duration
}

// Option configures a Metrics ledger.
type Option func(*Metrics)

// WithLogger sets the logger for sealed attempts.
func WithLogger(l *zap.Logger) Option {
	return func(m *Metrics) { m.log = logger.OrNop(l) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Metrics) { m.now = now }
}

// Metrics is the attempt ledger. Attempts are kept in recording order.
type Metrics struct {
	mu       sync.Mutex
	cfg      Config
	order    []string
	attempts map[string]*Attempt
	started  time.Time

	log *zap.Logger
	now func() time.Time
}

// New validates cfg and returns an empty ledger.
func New(cfg Config, opts ...Option) (*Metrics, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Metrics{
		cfg:      cfg,
		attempts: make(map[string]*Attempt),
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.started = m.now()
	return m, nil
}

// Config returns the metrics configuration.
func (m *Metrics) Config() Config {
	return m.cfg
}

// RecordAttempt opens an attempt for test and returns its id.
func (m *Metrics) RecordAttempt(test models.FailedTest, failureType models.FailureType) string {
	if failureType == "" {
		failureType = test.FailureType
	}
	if failureType == "" {
		failureType = models.FailureUnknown
	}

	a := &Attempt{
		ID:          uuid.NewString(),
		TestID:      test.ID,
		TestName:    test.Name,
		FailureType: failureType,
		StartTime:   m.now(),
		Strategy:    models.StrategyAIPowered,
	}

	m.mu.Lock()
	m.attempts[a.ID] = a
	m.order = append(m.order, a.ID)
	m.mu.Unlock()
	return a.ID
}

// RecordSuccess seals id as successful.
func (m *Metrics) RecordSuccess(id string, duration time.Duration, extra Extra) error {
	extra.Duration = duration
	return m.seal(id, true, "", extra)
}

// RecordFailure seals id as failed with reason.
func (m *Metrics) RecordFailure(id, reason string, extra Extra) error {
	return m.seal(id, false, reason, extra)
}

func (m *Metrics) seal(id string, success bool, reason string, extra Extra) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.attempts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAttemptNotFound, id)
	}
	if a.Sealed {
		return fmt.Errorf("%w: %s", ErrAttemptSealed, id)
	}

	a.EndTime = m.now()
	a.Sealed = true
	a.Success = success
	a.FailureReason = reason
	a.Duration = extra.Duration
	if a.Duration <= 0 {
		a.Duration = a.EndTime.Sub(a.StartTime)
	}
	if extra.Strategy != "" {
		a.Strategy = extra.Strategy
	}
	a.TokensUsed = extra.TokensUsed
	a.EstimatedCost = extra.EstimatedCost
	a.CacheHit = extra.CacheHit
	a.FallbackReason = extra.FallbackReason
	if a.Strategy == models.StrategyFallback && a.FallbackReason == "" {
		a.FallbackReason = DefaultFallbackReason
	}

	m.log.Debug("healing attempt sealed",
		zap.String("attempt_id", id),
		zap.String("test_id", a.TestID),
		zap.Bool("success", success),
		zap.String("strategy", string(a.Strategy)),
		zap.Bool("cache_hit", a.CacheHit),
		zap.String("reason", reason))
	return nil
}

// Attempt returns a copy of the attempt with id.
func (m *Metrics) Attempt(id string) (Attempt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, false
	}
	return *a, true
}

// Attempts returns copies of every attempt, open or sealed, in recording order.
func (m *Metrics) Attempts() []Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Attempt, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.attempts[id])
	}
	return out
}

// sealed returns copies of sealed attempts in recording order.
func (m *Metrics) sealed() []Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Attempt, 0, len(m.order))
	for _, id := range m.order {
		if a := m.attempts[id]; a.Sealed {
			out = append(out, *a)
		}
	}
	return out
}

// Reset drops every attempt.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = make(map[string]*Attempt)
	m.order = nil
	m.started = m.now()
}
