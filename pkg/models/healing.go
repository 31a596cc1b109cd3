package models

import (
	"strconv"
	"time"
)

// FailureType categorizes why a test failed
type FailureType string

const (
	FailureAssertion FailureType = "assertion"
	FailureTimeout   FailureType = "timeout"
	FailureNetwork   FailureType = "network"
	FailureSelector  FailureType = "selector"
	FailureInfra     FailureType = "infra"
	FailureUnknown   FailureType = "unknown"
)

// FailureTypes lists every failure type in reporting order
func FailureTypes() []FailureType {
	return []FailureType{
		FailureAssertion,
		FailureTimeout,
		FailureNetwork,
		FailureSelector,
		FailureInfra,
		FailureUnknown,
	}
}

// Valid reports whether t is one of the known failure types
func (t FailureType) Valid() bool {
	for _, known := range FailureTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Strategy identifies how a repair was produced
type Strategy string

const (
	StrategyAIPowered Strategy = "ai-powered"
	StrategyFallback  Strategy = "fallback"
	StrategyRuleBased Strategy = "rule-based"
)

// FailedTest is a failing test execution handed over by the test executor.
// Treat it as immutable once created.
type FailedTest struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	FilePath         string      `json:"file_path,omitempty"`
	LineNumber       int         `json:"line_number,omitempty"`
	FailureType      FailureType `json:"failure_type"`
	ErrorMessage     string      `json:"error_message"`
	ErrorStack       string      `json:"error_stack,omitempty"`
	TestCode         string      `json:"test_code,omitempty"`
	Timestamp        time.Time   `json:"timestamp"`
	PreviousAttempts int         `json:"previous_attempts"`
}

// Location renders file:line, or just the file when the line is unknown
func (f FailedTest) Location() string {
	if f.LineNumber > 0 {
		return f.FilePath + ":" + strconv.Itoa(f.LineNumber)
	}
	return f.FilePath
}

// FailureAnalysis is the diagnosis produced by a failure analyzer
type FailureAnalysis struct {
	FailureType FailureType `json:"failure_type"`
	RootCause   string      `json:"root_cause"`
	LikelyFlaky bool        `json:"likely_flaky"`
	Confidence  float64     `json:"confidence"` // 0-1
	Suggestions []string    `json:"suggestions,omitempty"`
}

// TestTask is a unit of work the retry handler may run more than once.
// MaxRetries < 0 inherits the handler's ceiling; 0 allows a single attempt.
type TestTask struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	MaxRetries int               `json:"max_retries"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// TestExecutionResult is the outcome of executing a task once
type TestExecutionResult struct {
	TaskID        string        `json:"task_id"`
	Success       bool          `json:"success"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
	RetryAttempt  int           `json:"retry_attempt"`
	Output        string        `json:"output,omitempty"`
	// Abort stops the retry loop after this attempt even if retries remain.
	Abort bool `json:"abort,omitempty"`
}

// RegenerationContext is everything a regenerator needs to propose a fix
type RegenerationContext struct {
	Test          FailedTest       `json:"test"`
	Analysis      *FailureAnalysis `json:"analysis,omitempty"`
	SpecDiff      string           `json:"spec_diff,omitempty"`
	Attempt       int              `json:"attempt"`
	PreviousError string           `json:"previous_error,omitempty"`
	Timeout       time.Duration    `json:"timeout,omitempty"`
}

// Regeneration is a proposed fix returned by a regenerator
type Regeneration struct {
	FixedCode        string  `json:"fixed_code"`
	Confidence       float64 `json:"confidence"` // 0-1
	Explanation      string  `json:"explanation,omitempty"`
	Model            string  `json:"model,omitempty"`
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TokensUsed       int     `json:"tokens_used"`
	EstimatedCost    float64 `json:"estimated_cost"`
}

// RepairPayload is the value stored in the repair cache
type RepairPayload struct {
	TestID      string      `json:"test_id"`
	FailureType FailureType `json:"failure_type"`
	FixedCode   string      `json:"fixed_code"`
	Confidence  float64     `json:"confidence"`
	Strategy    Strategy    `json:"strategy"`
	CreatedAt   time.Time   `json:"created_at"`
}

// HealingOutcome is the terminal state of one failed test in a batch
type HealingOutcome string

const (
	OutcomeHealed         HealingOutcome = "healed"
	OutcomeCached         HealingOutcome = "cached"
	OutcomeFailed         HealingOutcome = "failed"
	OutcomeBudgetExceeded HealingOutcome = "budget-exceeded"
	OutcomeSkipped        HealingOutcome = "skipped"
)

// Healed reports whether the outcome carries a usable fix
func (o HealingOutcome) Healed() bool {
	return o == OutcomeHealed || o == OutcomeCached
}

// HealingResult describes what happened to one failed test
type HealingResult struct {
	TestID     string         `json:"test_id"`
	TestName   string         `json:"test_name"`
	Outcome    HealingOutcome `json:"outcome"`
	Strategy   Strategy       `json:"strategy,omitempty"`
	FixedCode  string         `json:"fixed_code,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	CacheHit   bool           `json:"cache_hit"`
	AttemptIDs []string       `json:"attempt_ids,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// HealingReport is returned to the pipeline after a batch
type HealingReport struct {
	SuccessfullyHealed []HealingResult `json:"successfully_healed"`
	FailedHealing      []HealingResult `json:"failed_healing"`
	Skipped            []HealingResult `json:"skipped"`
	HealingAttempts    int             `json:"healing_attempts"`
	TotalTime          time.Duration   `json:"total_time"`
}

