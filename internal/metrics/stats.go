package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/kamilpajak/heisenberg-heal/pkg/models"
)

// TypeMetrics aggregates sealed attempts of one failure type.
type TypeMetrics struct {
	Attempts      int     `json:"attempts"`
	Successful    int     `json:"successful"`
	Failed        int     `json:"failed"`
	SuccessRate   float64 `json:"success_rate"`
	AverageTimeMS float64 `json:"average_time_ms"`
	TotalCost     float64 `json:"total_cost"`
}

// AIUsageStats covers attempts that went through the AI-powered strategy.
// The prompt/completion split is estimated from PromptTokenRatio.
type AIUsageStats struct {
	TimesUsed        int     `json:"times_used"`
	TotalTokens      int     `json:"total_tokens"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalCost        float64 `json:"total_cost"`
	AverageTokens    float64 `json:"average_tokens"`
	SuccessRate      float64 `json:"success_rate"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
}

// FallbackUsageStats covers attempts that used the fallback strategy.
type FallbackUsageStats struct {
	TimesUsed   int            `json:"times_used"`
	SuccessRate float64        `json:"success_rate"`
	Reasons     map[string]int `json:"reasons"`
}

// CalculateSuccessRate returns successful/total*100 over sealed attempts.
func (m *Metrics) CalculateSuccessRate() float64 {
	return successRate(m.sealed())
}

// CalculateAverageTime returns the mean duration of sealed attempts.
func (m *Metrics) CalculateAverageTime() time.Duration {
	return averageTime(m.sealed())
}

// GetMetricsByFailureType breaks sealed attempts down by failure type. Types
// with no attempts are omitted.
func (m *Metrics) GetMetricsByFailureType() map[models.FailureType]TypeMetrics {
	return byFailureType(m.sealed())
}

// GetAIUsageStats summarizes AI-powered attempts.
func (m *Metrics) GetAIUsageStats() AIUsageStats {
	return aiUsage(m.sealed(), m.cfg.PromptTokenRatio)
}

// GetFallbackUsageStats summarizes fallback attempts and why they happened.
func (m *Metrics) GetFallbackUsageStats() FallbackUsageStats {
	return fallbackUsage(m.sealed())
}

func successRate(attempts []Attempt) float64 {
	if len(attempts) == 0 {
		return 0
	}
	ok := 0
	for _, a := range attempts {
		if a.Success {
			ok++
		}
	}
	return percent(ok, len(attempts))
}

func averageTime(attempts []Attempt) time.Duration {
	if len(attempts) == 0 {
		return 0
	}
	var total time.Duration
	for _, a := range attempts {
		total += a.Duration
	}
	return total / time.Duration(len(attempts))
}

func byFailureType(attempts []Attempt) map[models.FailureType]TypeMetrics {
	groups := make(map[models.FailureType][]Attempt)
	for _, a := range attempts {
		groups[a.FailureType] = append(groups[a.FailureType], a)
	}

	out := make(map[models.FailureType]TypeMetrics, len(groups))
	for ft, group := range groups {
		tm := TypeMetrics{
			Attempts:      len(group),
			SuccessRate:   successRate(group),
			AverageTimeMS: ms(averageTime(group)),
		}
		for _, a := range group {
			if a.Success {
				tm.Successful++
			} else {
				tm.Failed++
			}
			tm.TotalCost += a.EstimatedCost
		}
		out[ft] = tm
	}
	return out
}

func aiUsage(attempts []Attempt, promptRatio float64) AIUsageStats {
	var (
		stats   AIUsageStats
		ok      int
		hits    int
		matched []Attempt
	)
	for _, a := range attempts {
		if a.Strategy != models.StrategyAIPowered {
			continue
		}
		matched = append(matched, a)
		stats.TotalTokens += a.TokensUsed
		stats.TotalCost += a.EstimatedCost
		if a.Success {
			ok++
		}
		if a.CacheHit {
			hits++
		}
	}
	stats.TimesUsed = len(matched)
	if stats.TimesUsed == 0 {
		return stats
	}
	stats.AverageTokens = float64(stats.TotalTokens) / float64(stats.TimesUsed)
	stats.SuccessRate = percent(ok, stats.TimesUsed)
	stats.CacheHitRate = percent(hits, stats.TimesUsed)
	stats.PromptTokens = int(math.Round(float64(stats.TotalTokens) * promptRatio))
	stats.CompletionTokens = stats.TotalTokens - stats.PromptTokens
	return stats
}

func fallbackUsage(attempts []Attempt) FallbackUsageStats {
	stats := FallbackUsageStats{Reasons: make(map[string]int)}
	ok := 0
	for _, a := range attempts {
		if a.Strategy != models.StrategyFallback {
			continue
		}
		stats.TimesUsed++
		if a.Success {
			ok++
		}
		reason := a.FallbackReason
		if reason == "" {
			reason = DefaultFallbackReason
		}
		stats.Reasons[reason]++
	}
	if stats.TimesUsed > 0 {
		stats.SuccessRate = percent(ok, stats.TimesUsed)
	}
	return stats
}

// sortedTypes returns the keys of byType in reporting order.
func sortedTypes(byType map[models.FailureType]TypeMetrics) []models.FailureType {
	order := make(map[models.FailureType]int)
	for i, ft := range models.FailureTypes() {
		order[ft] = i
	}
	types := make([]models.FailureType, 0, len(byType))
	for ft := range byType {
		types = append(types, ft)
	}
	sort.Slice(types, func(i, j int) bool {
		oi, iok := order[types[i]]
		oj, jok := order[types[j]]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		default:
			return types[i] < types[j]
		}
	})
	return types
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
