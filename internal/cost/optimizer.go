// Package cost estimates the token cost of AI repair calls and enforces a
// monthly spend budget shared by every healing worker.
package cost

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kamilpajak/heisenberg-heal/internal/logger"
	"go.uber.org/zap"
)

// ErrInvalidConfig is returned when a cost configuration cannot be used.
var ErrInvalidConfig = errors.New("invalid cost config")

// ModelPricing is the USD price per 1K tokens for one model.
type ModelPricing struct {
	InputPer1K  float64 `yaml:"input_per_1k" json:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k" json:"output_per_1k"`
}

// Config sets the budget and the pricing heuristics.
type Config struct {
	MonthlyBudget    float64 `yaml:"monthly_budget" json:"monthly_budget"`
	WarningThreshold float64 `yaml:"warning_threshold" json:"warning_threshold"` // fraction of budget, 0-1
	RatePer1KTokens  float64 `yaml:"rate_per_1k_tokens" json:"rate_per_1k_tokens"`
	CharsPerToken    int     `yaml:"chars_per_token" json:"chars_per_token"`
	// LargePromptTokens is the prompt size above which estimates recommend trimming.
	LargePromptTokens int                     `yaml:"large_prompt_tokens" json:"large_prompt_tokens"`
	Pricing           map[string]ModelPricing `yaml:"pricing,omitempty" json:"pricing,omitempty"`
}

// DefaultConfig returns a $100/month budget warning at 80%.
func DefaultConfig() Config {
	return Config{
		MonthlyBudget:     100,
		WarningThreshold:  0.8,
		RatePer1KTokens:   0.002,
		CharsPerToken:     4,
		LargePromptTokens: 4000,
	}
}

// Validate rejects negative money and out-of-range ratios.
func (c Config) Validate() error {
	switch {
	case c.MonthlyBudget < 0:
		return fmt.Errorf("%w: monthly_budget must be >= 0", ErrInvalidConfig)
	case c.WarningThreshold <= 0 || c.WarningThreshold > 1:
		return fmt.Errorf("%w: warning_threshold must be in (0, 1], got %v", ErrInvalidConfig, c.WarningThreshold)
	case c.RatePer1KTokens < 0:
		return fmt.Errorf("%w: rate_per_1k_tokens must be >= 0", ErrInvalidConfig)
	case c.CharsPerToken < 1:
		return fmt.Errorf("%w: chars_per_token must be >= 1", ErrInvalidConfig)
	case c.LargePromptTokens < 0:
		return fmt.Errorf("%w: large_prompt_tokens must be >= 0", ErrInvalidConfig)
	}
	for model, p := range c.Pricing {
		if p.InputPer1K < 0 || p.OutputPer1K < 0 {
			return fmt.Errorf("%w: negative pricing for model %q", ErrInvalidConfig, model)
		}
	}
	return nil
}

// Estimate is a dry-run cost calculation. It is never written to the ledger.
type Estimate struct {
	Model            string  `json:"model,omitempty"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
	Recommendation   string  `json:"recommendation"`
	WithinBudget     bool    `json:"within_budget"`
}

// BudgetStatus is derived from the ledger on every call.
type BudgetStatus struct {
	Limit              float64   `json:"limit"`
	Spent              float64   `json:"spent"`
	Reserved           float64   `json:"reserved"`
	Remaining          float64   `json:"remaining"`
	PercentUsed        float64   `json:"percent_used"`
	AtWarningThreshold bool      `json:"at_warning_threshold"`
	ResetDate          time.Time `json:"reset_date"`
}

// Request describes a completed AI call.
type Request struct {
	Model  string `json:"model,omitempty"`
	TestID string `json:"test_id,omitempty"`
	Prompt string `json:"-"`
}

// Response carries the usage a provider reported. Zero token counts are
// estimated from the prompt; a zero Cost is priced from the config.
type Response struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

// LedgerEntry is one tracked AI call.
type LedgerEntry struct {
	Timestamp        time.Time `json:"timestamp"`
	Model            string    `json:"model,omitempty"`
	TestID           string    `json:"test_id,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	Cost             float64   `json:"cost"`
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLogger sets the logger used for budget warnings.
func WithLogger(l *zap.Logger) Option {
	return func(o *Optimizer) { o.log = logger.OrNop(l) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) { o.now = now }
}

// Optimizer owns the spend ledger. All ledger reads and writes happen under
// one mutex so a budget check followed by a spend cannot interleave with
// another worker's spend.
type Optimizer struct {
	mu       sync.Mutex
	cfg      Config
	ledger   []LedgerEntry
	reserved map[string]float64
	warned   bool

	log *zap.Logger
	now func() time.Time
}

// NewOptimizer validates cfg and returns an optimizer with an empty ledger.
func NewOptimizer(cfg Config, opts ...Option) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Optimizer{
		cfg:      cfg,
		reserved: make(map[string]float64),
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Config returns the optimizer configuration.
func (o *Optimizer) Config() Config {
	return o.cfg
}

// EstimateTokens converts text to tokens with the chars-per-token heuristic,
// rounding up.
func (o *Optimizer) EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return int(math.Ceil(float64(n) / float64(o.cfg.CharsPerToken)))
}

// EstimateCost prices a prospective call at the flat rate.
func (o *Optimizer) EstimateCost(prompt string, expectedCompletionTokens int) Estimate {
	return o.EstimateCostForModel("", prompt, expectedCompletionTokens)
}

// EstimateCostForModel prices a prospective call with the model's pricing
// when one is configured. It does not touch the ledger.
func (o *Optimizer) EstimateCostForModel(model, prompt string, expectedCompletionTokens int) Estimate {
	if expectedCompletionTokens < 0 {
		expectedCompletionTokens = 0
	}
	est := Estimate{
		Model:            model,
		PromptTokens:     o.EstimateTokens(prompt),
		CompletionTokens: expectedCompletionTokens,
	}
	est.TotalTokens = est.PromptTokens + est.CompletionTokens
	est.EstimatedCost = o.price(model, est.PromptTokens, est.CompletionTokens)

	status := o.CheckBudgetLimit()
	est.WithinBudget = est.EstimatedCost <= status.Remaining
	est.Recommendation = o.recommend(est, status)
	return est
}

func (o *Optimizer) price(model string, promptTokens, completionTokens int) float64 {
	if p, ok := o.cfg.Pricing[model]; ok && model != "" {
		return float64(promptTokens)/1000*p.InputPer1K + float64(completionTokens)/1000*p.OutputPer1K
	}
	return o.cfg.RatePer1KTokens * float64(promptTokens+completionTokens) / 1000
}

func (o *Optimizer) recommend(est Estimate, status BudgetStatus) string {
	switch {
	case !est.WithinBudget:
		return fmt.Sprintf("Estimated cost $%.4f exceeds remaining budget $%.4f: use the rule-based fallback", est.EstimatedCost, status.Remaining)
	case o.cfg.LargePromptTokens > 0 && est.PromptTokens > o.cfg.LargePromptTokens:
		return fmt.Sprintf("Prompt is large (%d tokens): reduce prompt size by trimming test code or spec diff", est.PromptTokens)
	case status.AtWarningThreshold:
		return "Budget nearly exhausted: prefer cached or rule-based repairs"
	default:
		return "Within budget"
	}
}

// TrackTokenUsage appends the actual usage of a completed call to the ledger.
func (o *Optimizer) TrackTokenUsage(req Request, resp Response) LedgerEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.trackLocked(req, resp)
}

func (o *Optimizer) trackLocked(req Request, resp Response) LedgerEntry {
	entry := LedgerEntry{
		Timestamp:        o.now(),
		Model:            req.Model,
		TestID:           req.TestID,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		Cost:             resp.Cost,
	}
	if entry.PromptTokens == 0 && req.Prompt != "" {
		entry.PromptTokens = o.EstimateTokens(req.Prompt)
	}
	entry.TotalTokens = entry.PromptTokens + entry.CompletionTokens
	if entry.Cost == 0 {
		entry.Cost = o.price(req.Model, entry.PromptTokens, entry.CompletionTokens)
	}
	o.ledger = append(o.ledger, entry)

	status := o.statusLocked()
	if status.AtWarningThreshold && !o.warned {
		o.warned = true
		o.log.Warn("budget warning threshold reached",
			zap.Float64("spent", status.Spent),
			zap.Float64("limit", status.Limit),
			zap.Float64("percent_used", status.PercentUsed))
	}
	return entry
}

// CheckBudgetLimit returns the budget state for the current calendar month.
func (o *Optimizer) CheckBudgetLimit() BudgetStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked()
}

func (o *Optimizer) statusLocked() BudgetStatus {
	now := o.now()
	start := monthStart(now)

	status := BudgetStatus{
		Limit:     o.cfg.MonthlyBudget,
		ResetDate: start.AddDate(0, 1, 0),
	}
	for _, e := range o.ledger {
		if !e.Timestamp.Before(start) {
			status.Spent += e.Cost
		}
	}
	for _, amount := range o.reserved {
		status.Reserved += amount
	}

	status.Remaining = math.Max(0, status.Limit-status.Spent-status.Reserved)
	if status.Limit > 0 {
		status.PercentUsed = status.Spent / status.Limit * 100
	} else {
		// A zero budget allows no AI spend at all.
		status.PercentUsed = 100
	}
	status.AtWarningThreshold = status.PercentUsed >= o.cfg.WarningThreshold*100
	return status
}

// Reservation holds budget for an in-flight call.
type Reservation struct {
	ID     string
	Amount float64
}

// Reserve sets aside amount from the remaining budget. The check and the
// hold happen atomically, so concurrent workers cannot jointly overspend.
func (o *Optimizer) Reserve(amount float64) (*Reservation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	status := o.statusLocked()
	if amount > status.Remaining {
		return nil, &BudgetExceededError{
			Limit:     status.Limit,
			Spent:     status.Spent + status.Reserved,
			Requested: amount,
			ResetDate: status.ResetDate,
		}
	}
	r := &Reservation{ID: uuid.NewString(), Amount: amount}
	o.reserved[r.ID] = amount
	return r, nil
}

// Commit releases the reservation and records the actual usage in its place.
func (o *Optimizer) Commit(r *Reservation, req Request, resp Response) LedgerEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r != nil {
		delete(o.reserved, r.ID)
	}
	return o.trackLocked(req, resp)
}

// Release returns a reservation to the pool without spending it.
func (o *Optimizer) Release(r *Reservation) {
	if r == nil {
		return
	}
	o.mu.Lock()
	delete(o.reserved, r.ID)
	o.mu.Unlock()
}

// Ledger returns a copy of every tracked entry.
func (o *Optimizer) Ledger() []LedgerEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]LedgerEntry(nil), o.ledger...)
}

// Reset empties the ledger and drops outstanding reservations.
func (o *Optimizer) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ledger = nil
	o.reserved = make(map[string]float64)
	o.warned = false
}

// BudgetExceededError is returned when a reservation would overspend.
type BudgetExceededError struct {
	Limit     float64
	Spent     float64
	Requested float64
	ResetDate time.Time
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf(
		"budget exceeded: $%.4f requested, $%.4f of $%.2f already committed this month (resets: %s)",
		e.Requested, e.Spent, e.Limit, e.ResetDate.Format("2006-01-02"),
	)
}

// IsBudgetExceeded checks if err is or wraps a BudgetExceededError.
func IsBudgetExceeded(err error) bool {
	var target *BudgetExceededError
	return errors.As(err, &target)
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
