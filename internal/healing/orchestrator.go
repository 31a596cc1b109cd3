package healing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kamilpajak/heisenberg-heal/internal/cache"
	"github.com/kamilpajak/heisenberg-heal/internal/cost"
	"github.com/kamilpajak/heisenberg-heal/internal/logger"
	"github.com/kamilpajak/heisenberg-heal/internal/metrics"
	"github.com/kamilpajak/heisenberg-heal/internal/retry"
	"github.com/kamilpajak/heisenberg-heal/pkg/models"
)

// Components are the shared stores the orchestrator reads and writes.
// All four are required.
type Components struct {
	Cache   *cache.Store[models.RepairPayload]
	Cost    *cost.Optimizer
	Metrics *metrics.Metrics
	Retry   *retry.Handler
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAnalyzer diagnoses each test before regeneration.
func WithAnalyzer(a FailureAnalyzer) Option {
	return func(o *Orchestrator) { o.analyzer = a }
}

// WithFallback sets the regenerator used when the budget cannot cover an
// ai-powered call.
func WithFallback(r TestRegenerator) Option {
	return func(o *Orchestrator) { o.fallback = r }
}

// WithPromptBuilder sets how prompts are rendered for cost estimates.
func WithPromptBuilder(b PromptBuilder) Option {
	return func(o *Orchestrator) { o.prompt = b }
}

// WithModel names the model used for per-model pricing.
func WithModel(model string) Option {
	return func(o *Orchestrator) { o.model = model }
}

// WithAttemptSink forwards sealed attempts to s.
func WithAttemptSink(s AttemptSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.log = logger.OrNop(l) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator repairs batches of failed tests.
type Orchestrator struct {
	cfg      Config
	regen    TestRegenerator
	fallback TestRegenerator
	analyzer FailureAnalyzer
	prompt   PromptBuilder
	model    string
	sink     AttemptSink

	cache   *cache.Store[models.RepairPayload]
	cost    *cost.Optimizer
	metrics *metrics.Metrics
	retry   *retry.Handler

	mu    sync.Mutex
	locks map[string]*testLock

	log *zap.Logger
	now func() time.Time
}

type testLock struct {
	mu   sync.Mutex
	refs int
}

// NewOrchestrator validates cfg and wires the components.
func NewOrchestrator(cfg Config, regen TestRegenerator, c Components, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if regen == nil {
		return nil, errors.New("regenerator is required")
	}
	if c.Cache == nil || c.Cost == nil || c.Metrics == nil || c.Retry == nil {
		return nil, errors.New("cache, cost, metrics and retry components are required")
	}
	if ceiling := c.Retry.Config().MaxRetries; cfg.AutoRetry && cfg.MaxAttemptsPerTest-1 > ceiling {
		return nil, fmt.Errorf("%w: max_attempts_per_test %d needs retry max_retries >= %d, got %d",
			ErrInvalidConfig, cfg.MaxAttemptsPerTest, cfg.MaxAttemptsPerTest-1, ceiling)
	}

	o := &Orchestrator{
		cfg:     cfg,
		regen:   regen,
		prompt:  defaultPrompt,
		cache:   c.Cache,
		cost:    c.Cost,
		metrics: c.Metrics,
		retry:   c.Retry,
		locks:   make(map[string]*testLock),
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Config returns the orchestrator configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

func defaultPrompt(rc models.RegenerationContext) string {
	parts := []string{rc.Test.TestCode, rc.Test.ErrorMessage, rc.SpecDiff}
	if rc.Analysis != nil {
		parts = append(parts, rc.Analysis.RootCause)
	}
	return strings.Join(parts, "\n")
}

// Heal repairs tests against the given spec diff. One test's failure never
// aborts the batch; the error is non-nil only when ctx is cancelled, and
// the partial report is still returned.
func (o *Orchestrator) Heal(ctx context.Context, tests []models.FailedTest, specDiff string) (*models.HealingReport, error) {
	start := o.now()
	var deadline time.Time
	if o.cfg.MaxTotalTime > 0 {
		deadline = start.Add(o.cfg.MaxTotalTime)
	}

	results := make([]models.HealingResult, len(tests))
	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i, test := range tests {
		g.Go(func() error {
			results[i] = o.healOne(ctx, test, specDiff, deadline)
			return nil
		})
	}
	_ = g.Wait()

	report := &models.HealingReport{
		SuccessfullyHealed: []models.HealingResult{},
		FailedHealing:      []models.HealingResult{},
		Skipped:            []models.HealingResult{},
	}
	for _, r := range results {
		report.HealingAttempts += len(r.AttemptIDs)
		switch {
		case r.Outcome.Healed():
			report.SuccessfullyHealed = append(report.SuccessfullyHealed, r)
		case r.Outcome == models.OutcomeSkipped:
			report.Skipped = append(report.Skipped, r)
		default:
			report.FailedHealing = append(report.FailedHealing, r)
		}
	}
	report.TotalTime = o.now().Sub(start)

	o.log.Info("healing batch finished",
		zap.Int("tests", len(tests)),
		zap.Int("healed", len(report.SuccessfullyHealed)),
		zap.Int("failed", len(report.FailedHealing)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("attempts", report.HealingAttempts),
		zap.Duration("total_time", report.TotalTime))

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("healing interrupted: %w", err)
	}
	return report, nil
}

// healState is the per-test working set shared by its attempts.
type healState struct {
	test        models.FailedTest
	failureType models.FailureType
	rc          models.RegenerationContext
	regen       TestRegenerator
	fallback    string
	reservation *cost.Reservation
	attemptIDs  []string
	lastReason  string
	fix         *models.Regeneration
}

func (o *Orchestrator) healOne(ctx context.Context, test models.FailedTest, specDiff string, deadline time.Time) models.HealingResult {
	unlock := o.lockTest(test.ID)
	defer unlock()

	start := o.now()
	res := models.HealingResult{TestID: test.ID, TestName: test.Name}
	finish := func(outcome models.HealingOutcome, reason string) models.HealingResult {
		res.Outcome = outcome
		res.Reason = reason
		res.Duration = o.now().Sub(start)
		o.log.Info("healing outcome",
			zap.String("test_id", test.ID),
			zap.String("outcome", string(outcome)),
			zap.String("strategy", string(res.Strategy)),
			zap.Int("attempts", len(res.AttemptIDs)),
			zap.String("reason", reason))
		return res
	}

	if ctx.Err() != nil {
		return finish(models.OutcomeSkipped, ReasonCancelled)
	}
	if !deadline.IsZero() && !o.now().Before(deadline) {
		return finish(models.OutcomeSkipped, ReasonDeadline)
	}

	analysis := o.analyze(ctx, test)
	ft := test.FailureType
	if (ft == "" || ft == models.FailureUnknown) && analysis != nil && analysis.FailureType.Valid() {
		ft = analysis.FailureType
	}
	if ft == "" {
		ft = models.FailureUnknown
	}

	key := cache.GenerateCacheKey(cache.KeyContext{
		FailureType:  ft,
		SpecDiffHash: cache.HashString(specDiff),
		TestCodeHash: cache.HashString(test.TestCode),
	})

	if entry, ok := o.cache.Get(key); ok {
		id := o.metrics.RecordAttempt(test, ft)
		o.seal(ctx, id, nil, metrics.Extra{
			Strategy: o.regen.Strategy(),
			CacheHit: true,
			Duration: o.now().Sub(start),
		})
		res.AttemptIDs = []string{id}
		res.CacheHit = true
		res.Strategy = entry.Value.Strategy
		res.FixedCode = entry.Value.FixedCode
		res.Confidence = entry.Value.Confidence
		return finish(models.OutcomeCached, "")
	}

	st := &healState{
		test:        test,
		failureType: ft,
		regen:       o.regen,
		rc: models.RegenerationContext{
			Test:     test,
			Analysis: analysis,
			SpecDiff: specDiff,
			Timeout:  o.cfg.RegenerationTimeout,
		},
	}

	if charged(st.regen) {
		reservation, err := o.reserve(st.rc)
		if err != nil {
			if o.fallback == nil || !o.cfg.FallbackOnBudget {
				id := o.metrics.RecordAttempt(test, ft)
				o.seal(ctx, id, errors.New(ReasonBudgetExceeded), metrics.Extra{
					Strategy:       models.StrategyFallback,
					FallbackReason: ReasonBudgetExceeded,
				})
				res.AttemptIDs = []string{id}
				res.Strategy = models.StrategyFallback
				return finish(models.OutcomeBudgetExceeded, ReasonBudgetExceeded)
			}
			o.log.Warn("budget exhausted, using fallback regenerator",
				zap.String("test_id", test.ID), zap.Error(err))
			st.regen = o.fallback
			st.fallback = ReasonBudgetExceeded
		}
		st.reservation = reservation
	}

	o.regenerate(ctx, st)
	res.AttemptIDs = st.attemptIDs
	res.Strategy = st.regen.Strategy()

	if st.fix == nil {
		return finish(models.OutcomeFailed, st.lastReason)
	}

	o.cache.Set(key, models.RepairPayload{
		TestID:      test.ID,
		FailureType: ft,
		FixedCode:   st.fix.FixedCode,
		Confidence:  st.fix.Confidence,
		Strategy:    st.regen.Strategy(),
		CreatedAt:   o.now(),
	})
	res.FixedCode = st.fix.FixedCode
	res.Confidence = st.fix.Confidence
	return finish(models.OutcomeHealed, "")
}

// regenerate runs attempts until one yields a confident fix. With AutoRetry
// the retry handler governs the attempts and their backoff.
func (o *Orchestrator) regenerate(ctx context.Context, st *healState) {
	if !o.cfg.AutoRetry {
		o.attempt(ctx, st, 0)
		return
	}

	n := 0
	task := models.TestTask{
		ID:         "heal:" + st.test.ID,
		Name:       st.test.Name,
		MaxRetries: o.cfg.MaxAttemptsPerTest - 1,
	}
	_, err := o.retry.ExecuteWithRetry(ctx, task, func(ctx context.Context, _ models.TestTask) (*models.TestExecutionResult, error) {
		ok, abort := o.attempt(ctx, st, n)
		n++
		return &models.TestExecutionResult{Success: ok, Error: st.lastReason, Abort: abort}, nil
	})
	if err != nil {
		st.lastReason = err.Error()
	}
}

// attempt makes one regenerator call wrapped in a metrics attempt. It
// reports whether a fix was accepted and whether further attempts are futile.
func (o *Orchestrator) attempt(ctx context.Context, st *healState, n int) (ok, abort bool) {
	if n > 0 && charged(st.regen) {
		reservation, err := o.reserve(st.rc)
		if err != nil {
			st.lastReason = ReasonBudgetExceeded
			return false, true
		}
		st.reservation = reservation
	}

	rc := st.rc
	rc.Attempt = n
	rc.PreviousError = st.lastReason

	id := o.metrics.RecordAttempt(st.test, st.failureType)
	st.attemptIDs = append(st.attemptIDs, id)

	started := o.now()
	out, err := callRegenerator(ctx, st.regen, rc)
	extra := metrics.Extra{
		Strategy:       st.regen.Strategy(),
		FallbackReason: st.fallback,
	}
	if out != nil {
		extra.TokensUsed = out.TokensUsed
		extra.EstimatedCost = out.EstimatedCost
	}

	if charged(st.regen) {
		if out != nil {
			entry := o.cost.Commit(st.reservation, cost.Request{
				Model:  firstNonEmpty(out.Model, o.model),
				TestID: st.test.ID,
				Prompt: o.prompt(rc),
			}, cost.Response{
				PromptTokens:     out.PromptTokens,
				CompletionTokens: out.CompletionTokens,
				Cost:             out.EstimatedCost,
			})
			extra.EstimatedCost = entry.Cost
			if extra.TokensUsed == 0 {
				extra.TokensUsed = entry.TotalTokens
			}
		} else {
			o.cost.Release(st.reservation)
		}
		st.reservation = nil
	}
	extra.Duration = o.now().Sub(started)

	switch {
	case err != nil:
		st.lastReason = err.Error()
		o.seal(ctx, id, err, extra)
		return false, errors.Is(err, ErrNoFix) || ctx.Err() != nil
	case out == nil || strings.TrimSpace(out.FixedCode) == "":
		st.lastReason = "regenerator returned no fix"
		o.seal(ctx, id, errors.New(st.lastReason), extra)
		return false, false
	case out.Confidence < o.cfg.MinConfidence:
		st.lastReason = fmt.Sprintf("confidence %.2f below %.2f", out.Confidence, o.cfg.MinConfidence)
		o.seal(ctx, id, errors.New(st.lastReason), extra)
		return false, false
	}

	st.lastReason = ""
	st.fix = out
	o.seal(ctx, id, nil, extra)
	return true, false
}

// callRegenerator turns a regenerator panic into an error so the attempt is
// still sealed and its reservation settled.
func callRegenerator(ctx context.Context, regen TestRegenerator, rc models.RegenerationContext) (out *models.Regeneration, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("regenerator panicked: %v", r)
		}
	}()
	return regen.Regenerate(ctx, rc)
}

func (o *Orchestrator) reserve(rc models.RegenerationContext) (*cost.Reservation, error) {
	est := o.cost.EstimateCostForModel(o.model, o.prompt(rc), o.cfg.ExpectedCompletionTokens)
	if !est.WithinBudget {
		return nil, fmt.Errorf("%s: %s", ReasonBudgetExceeded, est.Recommendation)
	}
	return o.cost.Reserve(est.EstimatedCost)
}

func (o *Orchestrator) analyze(ctx context.Context, test models.FailedTest) *models.FailureAnalysis {
	if o.analyzer == nil {
		return nil
	}
	a, err := o.analyzer.Analyze(ctx, test)
	if err != nil {
		o.log.Warn("failure analysis failed", zap.String("test_id", test.ID), zap.Error(err))
		return nil
	}
	return a
}

// seal closes attempt id as a success (cause nil) or failure and forwards
// it to the sink.
func (o *Orchestrator) seal(ctx context.Context, id string, cause error, extra metrics.Extra) {
	var err error
	if cause == nil {
		err = o.metrics.RecordSuccess(id, extra.Duration, extra)
	} else {
		err = o.metrics.RecordFailure(id, cause.Error(), extra)
	}
	if err != nil {
		o.log.Error("failed to seal attempt", zap.String("attempt_id", id), zap.Error(err))
		return
	}

	if o.sink == nil {
		return
	}
	a, ok := o.metrics.Attempt(id)
	if !ok {
		return
	}
	if err := o.sink.SaveAttempt(context.WithoutCancel(ctx), a); err != nil {
		o.log.Warn("failed to persist attempt", zap.String("attempt_id", id), zap.Error(err))
	}
}

// lockTest serializes attempts for the same test id.
func (o *Orchestrator) lockTest(id string) func() {
	o.mu.Lock()
	l, ok := o.locks[id]
	if !ok {
		l = &testLock{}
		o.locks[id] = l
	}
	l.refs++
	o.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		o.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.locks, id)
		}
		o.mu.Unlock()
	}
}

func charged(r TestRegenerator) bool {
	return r.Strategy() == models.StrategyAIPowered
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
