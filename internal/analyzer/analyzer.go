// Package analyzer diagnoses failed tests and proposes repaired test code,
// either with deterministic rules or with an LLM.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kamilpajak/heisenberg-heal/internal/llm"
	"github.com/kamilpajak/heisenberg-heal/pkg/models"
)

// RuleAnalyzer classifies failures from their error text alone
type RuleAnalyzer struct{}

var ruleSuggestions = map[models.FailureType][]string{
	models.FailureTimeout:   {"Increase the action or navigation timeout", "Wait for the element or network state explicitly"},
	models.FailureNetwork:   {"Wait for the network to settle after navigation", "Check that the backend under test is reachable"},
	models.FailureSelector:  {"Use a role or test-id locator instead of a CSS selector", "Make the locator match exactly one element"},
	models.FailureAssertion: {"Check whether the expected value changed with the latest API spec"},
	models.FailureInfra:     {"Re-run on a healthy runner; the failure is outside the test code"},
}

// Analyze never fails
func (RuleAnalyzer) Analyze(_ context.Context, test models.FailedTest) (*models.FailureAnalysis, error) {
	ft := test.FailureType
	if ft == "" || ft == models.FailureUnknown {
		ft = Classify(test.ErrorMessage + "\n" + test.ErrorStack)
	}

	confidence := 0.6
	if ft == models.FailureUnknown {
		confidence = 0.2
	}
	return &models.FailureAnalysis{
		FailureType: ft,
		RootCause:   firstLine(test.ErrorMessage),
		LikelyFlaky: LikelyFlaky(ft) || test.PreviousAttempts > 0,
		Confidence:  confidence,
		Suggestions: ruleSuggestions[ft],
	}, nil
}

// AIAnalyzer asks an LLM for a diagnosis
type AIAnalyzer struct {
	client llm.Completer
}

// NewAIAnalyzer creates an analyzer backed by client
func NewAIAnalyzer(client llm.Completer) *AIAnalyzer {
	return &AIAnalyzer{client: client}
}

// Analyze sends the failure to the model and parses its JSON diagnosis
func (a *AIAnalyzer) Analyze(ctx context.Context, test models.FailedTest) (*models.FailureAnalysis, error) {
	resp, err := a.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: analysisSystemPrompt},
		{Role: "user", Content: BuildAnalysisPrompt(test)},
	})
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	return parseAnalysis(resp.Content)
}

type analysisResponse struct {
	FailureType string   `json:"failure_type"`
	RootCause   string   `json:"root_cause"`
	LikelyFlaky bool     `json:"likely_flaky"`
	Confidence  float64  `json:"confidence"`
	Suggestions []string `json:"suggestions"`
}

func parseAnalysis(content string) (*models.FailureAnalysis, error) {
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in analysis response")
	}

	var ar analysisResponse
	if err := json.Unmarshal([]byte(raw), &ar); err != nil {
		return nil, fmt.Errorf("failed to parse analysis: %w", err)
	}

	ft := models.FailureType(strings.ToLower(strings.TrimSpace(ar.FailureType)))
	if !ft.Valid() {
		ft = models.FailureUnknown
	}
	return &models.FailureAnalysis{
		FailureType: ft,
		RootCause:   ar.RootCause,
		LikelyFlaky: ar.LikelyFlaky,
		Confidence:  clamp01(ar.Confidence),
		Suggestions: ar.Suggestions,
	}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// clamp01 accepts 0-1 or 0-100 confidences and returns 0-1
func clamp01(v float64) float64 {
	if v > 1 {
		v /= 100
	}
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
