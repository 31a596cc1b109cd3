// Package retry runs tasks under a bounded exponential-backoff retry loop and
// separates flaky tests from permanent failures.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kamilpajak/heisenberg-heal/internal/logger"
	"github.com/kamilpajak/heisenberg-heal/pkg/models"
	"go.uber.org/zap"
)

// Executor runs a task once. A returned error is treated exactly like a
// failed result.
type Executor func(ctx context.Context, task models.TestTask) (*models.TestExecutionResult, error)

// Attempt is one execution of a task. Attempts are appended, never mutated.
type Attempt struct {
	AttemptNumber int           `json:"attempt_number"`
	Success       bool          `json:"success"`
	ExecutionTime time.Duration `json:"execution_time"`
	Error         string        `json:"error,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// FlakyRecord marks a task that failed at least once and then succeeded.
type FlakyRecord struct {
	TestID       string    `json:"test_id"`
	TestName     string    `json:"test_name,omitempty"`
	FailureCount int       `json:"failure_count"`
	Attempts     []Attempt `json:"attempts"`
	DetectedAt   time.Time `json:"detected_at"`
}

// PermanentFailure marks a task that never succeeded within its ceiling.
type PermanentFailure struct {
	TestID    string    `json:"test_id"`
	TestName  string    `json:"test_name,omitempty"`
	Attempts  []Attempt `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
}

// Statistics summarizes the tasks seen since the last reset.
type Statistics struct {
	TotalTasks         int `json:"total_tasks"`
	FlakyTests         int `json:"flaky_tests"`
	PermanentFailures  int `json:"permanent_failures"`
	TotalRetryAttempts int `json:"total_retry_attempts"`
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger used for retry and classification events.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.log = logger.OrNop(l) }
}

// WithSleep replaces the backoff sleep, mainly so tests run instantly.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(h *Handler) { h.sleep = sleep }
}

// WithRand replaces the jitter source. It must return values in [0, 1).
func WithRand(f func() float64) Option {
	return func(h *Handler) { h.rand = f }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// Handler owns per-task retry state. Concurrent calls for different task
// ids are safe; callers must not retry the same task id concurrently.
type Handler struct {
	mu        sync.Mutex
	cfg       Config
	tasks     map[string][]Attempt // retried (non-final) attempts per task
	flaky     map[string]*FlakyRecord
	permanent map[string]*PermanentFailure

	log   *zap.Logger
	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
	now   func() time.Time
}

// NewHandler validates cfg and returns a ready handler.
func NewHandler(cfg Config, opts ...Option) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Handler{
		cfg:       cfg,
		tasks:     make(map[string][]Attempt),
		flaky:     make(map[string]*FlakyRecord),
		permanent: make(map[string]*PermanentFailure),
		log:       zap.NewNop(),
		sleep:     sleepContext,
		rand:      rand.Float64,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Config returns the active configuration.
func (h *Handler) Config() Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg
}

// UpdateConfig swaps the configuration after validating it. Loops already
// in progress keep the ceiling they started with.
func (h *Handler) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
	return nil
}

// ExecuteWithRetry runs task until it succeeds or the effective ceiling
// min(task.MaxRetries, config.MaxRetries) is used up. Failures never escape
// as errors: the last result is returned so callers can keep going. The
// error is non-nil only when ctx is cancelled during a backoff wait.
func (h *Handler) ExecuteWithRetry(ctx context.Context, task models.TestTask, exec Executor) (*models.TestExecutionResult, error) {
	cfg := h.Config()
	ceiling := cfg.MaxRetries
	if task.MaxRetries >= 0 && task.MaxRetries < ceiling {
		ceiling = task.MaxRetries
	}

	h.track(task.ID)

	var history []Attempt
	for attempt := 0; ; attempt++ {
		res := h.runOnce(ctx, task, exec, attempt)
		rec := Attempt{
			AttemptNumber: attempt,
			Success:       res.Success,
			ExecutionTime: res.ExecutionTime,
			Error:         res.Error,
			Timestamp:     h.now(),
		}
		history = append(history, rec)

		if res.Success {
			if attempt > 0 {
				h.markFlaky(task, history)
			}
			return res, nil
		}

		if attempt >= ceiling || res.Abort {
			h.markPermanent(task, history)
			return res, nil
		}

		h.appendAttempt(task.ID, rec)

		delay := h.backoff(cfg, attempt)
		h.log.Debug("retrying task",
			zap.String("task_id", task.ID),
			zap.Int("attempt", attempt+1),
			zap.Int("ceiling", ceiling),
			zap.Duration("delay", delay),
			zap.String("error", res.Error))

		if err := h.sleep(ctx, delay); err != nil {
			h.markPermanent(task, history)
			return res, fmt.Errorf("retry of %s interrupted: %w", task.ID, err)
		}
	}
}

func (h *Handler) runOnce(ctx context.Context, task models.TestTask, exec Executor, attempt int) (res *models.TestExecutionResult) {
	start := h.now()
	defer func() {
		if r := recover(); r != nil {
			res = &models.TestExecutionResult{
				TaskID: task.ID,
				Error:  fmt.Sprintf("executor panicked: %v", r),
			}
		}
		if res.ExecutionTime == 0 {
			res.ExecutionTime = h.now().Sub(start)
		}
		res.RetryAttempt = attempt
	}()

	out, err := exec(ctx, task)
	if err != nil {
		return &models.TestExecutionResult{TaskID: task.ID, Error: err.Error()}
	}
	if out == nil {
		return &models.TestExecutionResult{TaskID: task.ID, Error: "executor returned no result"}
	}
	cp := *out
	if cp.TaskID == "" {
		cp.TaskID = task.ID
	}
	return &cp
}

func (h *Handler) backoff(cfg Config, attempt int) time.Duration {
	delay := cfg.Delay(attempt)
	if cfg.EnableJitter && delay > 0 {
		delay += time.Duration(h.rand() * float64(delay))
	}
	return delay
}

func (h *Handler) track(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.tasks[id]; !ok {
		h.tasks[id] = nil
	}
}

func (h *Handler) appendAttempt(id string, a Attempt) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tasks[id] = append(h.tasks[id], a)
}

func (h *Handler) markFlaky(task models.TestTask, history []Attempt) {
	rec := &FlakyRecord{
		TestID:       task.ID,
		TestName:     task.Name,
		FailureCount: len(history) - 1,
		Attempts:     history,
		DetectedAt:   h.now(),
	}

	h.mu.Lock()
	h.flaky[task.ID] = rec
	delete(h.permanent, task.ID)
	h.mu.Unlock()

	h.log.Info("flaky test detected",
		zap.String("task_id", task.ID),
		zap.Int("failure_count", rec.FailureCount))
}

func (h *Handler) markPermanent(task models.TestTask, history []Attempt) {
	rec := &PermanentFailure{
		TestID:    task.ID,
		TestName:  task.Name,
		Attempts:  history,
		LastError: history[len(history)-1].Error,
	}

	h.mu.Lock()
	h.permanent[task.ID] = rec
	delete(h.flaky, task.ID)
	h.mu.Unlock()

	h.log.Warn("permanent failure",
		zap.String("task_id", task.ID),
		zap.Int("attempts", len(history)),
		zap.String("last_error", rec.LastError))
}

// TaskAttempts returns a copy of the retried attempts recorded for id.
func (h *Handler) TaskAttempts(id string) []Attempt {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Attempt(nil), h.tasks[id]...)
}

// IsFlaky reports whether id is currently classified as flaky.
func (h *Handler) IsFlaky(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.flaky[id]
	return ok
}

// IsPermanentFailure reports whether id exhausted its retries.
func (h *Handler) IsPermanentFailure(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.permanent[id]
	return ok
}

// FlakyTests returns copies of all flaky records.
func (h *Handler) FlakyTests() []FlakyRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]FlakyRecord, 0, len(h.flaky))
	for _, rec := range h.flaky {
		cp := *rec
		cp.Attempts = append([]Attempt(nil), rec.Attempts...)
		out = append(out, cp)
	}
	return out
}

// PermanentFailures returns copies of all permanent failure records.
func (h *Handler) PermanentFailures() []PermanentFailure {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]PermanentFailure, 0, len(h.permanent))
	for _, rec := range h.permanent {
		cp := *rec
		cp.Attempts = append([]Attempt(nil), rec.Attempts...)
		out = append(out, cp)
	}
	return out
}

// Statistics derives counts from the tracked tasks.
func (h *Handler) Statistics() Statistics {
	h.mu.Lock()
	defer h.mu.Unlock()
	stats := Statistics{
		TotalTasks:        len(h.tasks),
		FlakyTests:        len(h.flaky),
		PermanentFailures: len(h.permanent),
	}
	for _, attempts := range h.tasks {
		stats.TotalRetryAttempts += len(attempts)
	}
	return stats
}

// Reset forgets every task, flaky record and permanent failure.
func (h *Handler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tasks = make(map[string][]Attempt)
	h.flaky = make(map[string]*FlakyRecord)
	h.permanent = make(map[string]*PermanentFailure)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
