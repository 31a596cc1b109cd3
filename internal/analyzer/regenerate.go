package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kamilpajak/heisenberg-heal/internal/healing"
	"github.com/kamilpajak/heisenberg-heal/internal/llm"
	"github.com/kamilpajak/heisenberg-heal/pkg/models"
)

// ErrNoRule is returned when no deterministic rule applies to a failure.
// It wraps healing.ErrNoFix so the orchestrator does not retry.
var ErrNoRule = fmt.Errorf("no repair rule for failure: %w", healing.ErrNoFix)

// RuleRegenerator applies fixed rewrites for common flaky patterns. It
// costs nothing and works offline.
type RuleRegenerator struct {
	strategy models.Strategy
}

// NewRuleRegenerator returns a rule-based regenerator. When used as the
// budget fallback for an AI regenerator, pass models.StrategyFallback so
// its repairs are reported as fallbacks.
func NewRuleRegenerator(strategy models.Strategy) *RuleRegenerator {
	if strategy == "" {
		strategy = models.StrategyRuleBased
	}
	return &RuleRegenerator{strategy: strategy}
}

// Strategy reports how repairs from this regenerator are labelled
func (r *RuleRegenerator) Strategy() models.Strategy {
	return r.strategy
}

var (
	timeoutOption = regexp.MustCompile(`(timeout\s*:\s*)(\d+)`)
	waitForTime   = regexp.MustCompile(`(waitForTimeout\(\s*)(\d+)`)
	pageAction    = regexp.MustCompile(`page\.(click|dblclick|fill|hover|check|uncheck|press|type)\(\s*('[^']*'|"[^"]*"|` + "`[^`]*`" + `)\s*,?\s*`)
	pageGoto      = regexp.MustCompile(`(?m)^([ \t]*)(await page\.goto\([^\n]*\);?)[ \t]*$`)
)

// Regenerate rewrites the test according to its failure type
func (r *RuleRegenerator) Regenerate(_ context.Context, rc models.RegenerationContext) (*models.Regeneration, error) {
	code := rc.Test.TestCode
	if code == "" {
		return nil, fmt.Errorf("%w: test source unavailable", ErrNoRule)
	}

	ft := rc.Test.FailureType
	if rc.Analysis != nil && rc.Analysis.FailureType.Valid() && rc.Analysis.FailureType != models.FailureUnknown {
		ft = rc.Analysis.FailureType
	}

	var (
		fixed       string
		confidence  float64
		explanation string
	)
	switch ft {
	case models.FailureTimeout:
		fixed = doubleTimeouts(code)
		confidence = 0.75
		explanation = "Doubled explicit timeouts"
	case models.FailureSelector:
		fixed = pageAction.ReplaceAllString(code, "page.locator($2).$1(")
		confidence = 0.7
		explanation = "Replaced page-level actions with auto-waiting locators"
	case models.FailureNetwork:
		if strings.Contains(code, "waitForLoadState") {
			return nil, fmt.Errorf("%w: network waits already present", ErrNoRule)
		}
		fixed = pageGoto.ReplaceAllString(code, "$1$2\n${1}await page.waitForLoadState('networkidle');")
		confidence = 0.72
		explanation = "Wait for the network to go idle after navigation"
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoRule, ft)
	}

	if fixed == code {
		return nil, fmt.Errorf("%w: nothing to rewrite for %s", ErrNoRule, ft)
	}
	return &models.Regeneration{
		FixedCode:   fixed,
		Confidence:  confidence,
		Explanation: explanation,
	}, nil
}

func doubleTimeouts(code string) string {
	double := func(re *regexp.Regexp) func(string) string {
		return func(m string) string {
			parts := re.FindStringSubmatch(m)
			n, err := strconv.Atoi(parts[2])
			if err != nil {
				return m
			}
			return parts[1] + strconv.Itoa(n*2)
		}
	}
	code = timeoutOption.ReplaceAllStringFunc(code, double(timeoutOption))
	return waitForTime.ReplaceAllStringFunc(code, double(waitForTime))
}

// AIRegenerator asks an LLM for a repaired test
type AIRegenerator struct {
	client llm.Completer
}

// NewAIRegenerator creates a regenerator backed by client
func NewAIRegenerator(client llm.Completer) *AIRegenerator {
	return &AIRegenerator{client: client}
}

// Strategy reports ai-powered
func (r *AIRegenerator) Strategy() models.Strategy {
	return models.StrategyAIPowered
}

// Model returns the model used for pricing
func (r *AIRegenerator) Model() string {
	return r.client.Model()
}

// Prompt renders the user prompt for rc, the same text Regenerate sends
func (r *AIRegenerator) Prompt(rc models.RegenerationContext) string {
	return regenerationSystemPrompt + "\n\n" + BuildRegenerationPrompt(rc)
}

type regenerationResponse struct {
	FixedCode   string  `json:"fixed_code"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// Regenerate sends the failure to the model. Token usage is reported as
// returned by the provider; pricing is left to the caller.
func (r *AIRegenerator) Regenerate(ctx context.Context, rc models.RegenerationContext) (*models.Regeneration, error) {
	if rc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rc.Timeout)
		defer cancel()
	}

	resp, err := r.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: regenerationSystemPrompt},
		{Role: "user", Content: BuildRegenerationPrompt(rc)},
	})
	if err != nil {
		return nil, fmt.Errorf("regeneration request failed: %w", err)
	}

	regen := &models.Regeneration{
		Model:            resp.Model,
		PromptTokens:     resp.InputTokens,
		CompletionTokens: resp.OutputTokens,
		TokensUsed:       resp.TotalTokens(),
	}

	raw := llm.ExtractJSON(resp.Content)
	if raw == "" {
		return regen, fmt.Errorf("no JSON object in regeneration response")
	}
	var out regenerationResponse
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return regen, fmt.Errorf("failed to parse regeneration: %w", err)
	}
	if strings.TrimSpace(out.FixedCode) == "" {
		return regen, fmt.Errorf("model returned no fixed code")
	}

	regen.FixedCode = out.FixedCode
	regen.Confidence = clamp01(out.Confidence)
	regen.Explanation = out.Explanation
	return regen, nil
}
