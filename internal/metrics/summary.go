package metrics

import (
	"fmt"
	"time"

	"github.com/kamilpajak/heisenberg-heal/pkg/models"
)

// Period is the time span a summary covers.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Summary is recomputed from the ledger on every call and never stored
// except as a history snapshot.
type Summary struct {
	Period          Period                             `json:"period"`
	TotalAttempts   int                                `json:"total_attempts"`
	Successful      int                                `json:"successful"`
	Failed          int                                `json:"failed"`
	SuccessRate     float64                            `json:"success_rate"`
	AverageTimeMS   float64                            `json:"average_time_ms"`
	TotalCost       float64                            `json:"total_cost"`
	TotalTokens     int                                `json:"total_tokens"`
	ByFailureType   map[models.FailureType]TypeMetrics `json:"by_failure_type"`
	AIUsage         AIUsageStats                       `json:"ai_usage"`
	FallbackUsage   FallbackUsageStats                 `json:"fallback_usage"`
	Warnings        []string                           `json:"warnings"`
	Recommendations []string                           `json:"recommendations"`
}

// GenerateSummary aggregates every sealed attempt.
func (m *Metrics) GenerateSummary() Summary {
	attempts := m.sealed()

	m.mu.Lock()
	period := Period{Start: m.started, End: m.now()}
	m.mu.Unlock()

	s := Summary{
		TotalAttempts: len(attempts),
		SuccessRate:   successRate(attempts),
		AverageTimeMS: ms(averageTime(attempts)),
		ByFailureType: byFailureType(attempts),
		AIUsage:       aiUsage(attempts, m.cfg.PromptTokenRatio),
		FallbackUsage: fallbackUsage(attempts),
	}
	for i, a := range attempts {
		if a.Success {
			s.Successful++
		} else {
			s.Failed++
		}
		s.TotalCost += a.EstimatedCost
		s.TotalTokens += a.TokensUsed
		if i == 0 || a.StartTime.Before(period.Start) {
			period.Start = a.StartTime
		}
	}
	s.Period = period
	s.Warnings = m.warnings(s)
	s.Recommendations = m.recommendations(s)
	return s
}

func (m *Metrics) warnings(s Summary) []string {
	warnings := []string{}
	if s.TotalAttempts == 0 {
		return warnings
	}

	if s.SuccessRate < m.cfg.LowSuccessThreshold {
		warnings = append(warnings, fmt.Sprintf(
			"Low success rate: %.1f%% (threshold %.1f%%)", s.SuccessRate, m.cfg.LowSuccessThreshold))
	}
	for _, ft := range sortedTypes(s.ByFailureType) {
		tm := s.ByFailureType[ft]
		if tm.Attempts >= 3 && tm.Successful == 0 {
			warnings = append(warnings, fmt.Sprintf(
				"No %s failures healed in %d attempts", ft, tm.Attempts))
		}
	}
	if n := s.FallbackUsage.Reasons["budget-exceeded"]; n > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"Budget exhausted: %d repairs fell back to non-AI strategies", n))
	}
	return warnings
}

func (m *Metrics) recommendations(s Summary) []string {
	recs := []string{}
	if s.TotalAttempts == 0 {
		return recs
	}

	ai := s.AIUsage
	if ai.TimesUsed >= m.cfg.HighAIUsage && ai.TimesUsed > 0 && ai.CacheHitRate < m.cfg.LowCacheHitRate {
		recs = append(recs, fmt.Sprintf(
			"Enable the repair cache or lengthen its TTL: only %.1f%% of %d AI repairs were cache hits",
			ai.CacheHitRate, ai.TimesUsed))
	}
	if s.FallbackUsage.TimesUsed > 0 && s.FallbackUsage.TimesUsed > ai.TimesUsed {
		recs = append(recs, "Fallback repairs outnumber AI repairs: review the monthly budget")
	}

	var worst models.FailureType
	worstFailed := 0
	for _, ft := range sortedTypes(s.ByFailureType) {
		if tm := s.ByFailureType[ft]; tm.Failed > worstFailed {
			worst, worstFailed = ft, tm.Failed
		}
	}
	if worstFailed > 0 && s.Failed > 1 {
		recs = append(recs, fmt.Sprintf(
			"Focus on %s failures: %d of %d failed repairs", worst, worstFailed, s.Failed))
	}
	if s.AverageTimeMS > 30_000 {
		recs = append(recs, fmt.Sprintf(
			"Average healing time is %.1fs: consider fewer attempts per test", s.AverageTimeMS/1000))
	}
	return recs
}
