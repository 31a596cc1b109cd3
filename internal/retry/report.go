package retry

import (
	"sort"
	"time"
)

// FlakyReport ranks flaky tests so the most unstable ones get fixed first
// instead of being hidden behind retries.
type FlakyReport struct {
	GeneratedAt time.Time         `json:"generated_at"`
	FlakyTests  []FlakyRecord     `json:"flaky_tests"`
	Statistics  FlakyReportTotals `json:"statistics"`
}

// FlakyReportTotals are the aggregate numbers in a FlakyReport.
type FlakyReportTotals struct {
	TotalTasks      int     `json:"total_tasks"`
	FlakyTests      int     `json:"flaky_tests"`
	FlakyPercentage float64 `json:"flaky_percentage"`
	AverageRetries  float64 `json:"average_retries"`
}

// GenerateFlakyTestReport returns flaky tests ordered by failure count,
// highest first.
func (h *Handler) GenerateFlakyTestReport() FlakyReport {
	flaky := h.FlakyTests()
	stats := h.Statistics()

	sort.SliceStable(flaky, func(i, j int) bool {
		if flaky[i].FailureCount != flaky[j].FailureCount {
			return flaky[i].FailureCount > flaky[j].FailureCount
		}
		return flaky[i].TestID < flaky[j].TestID
	})

	totals := FlakyReportTotals{
		TotalTasks: stats.TotalTasks,
		FlakyTests: len(flaky),
	}
	if stats.TotalTasks > 0 {
		totals.FlakyPercentage = float64(len(flaky)) / float64(stats.TotalTasks) * 100
	}
	if len(flaky) > 0 {
		sum := 0
		for _, f := range flaky {
			sum += f.FailureCount
		}
		totals.AverageRetries = float64(sum) / float64(len(flaky))
	}

	return FlakyReport{
		GeneratedAt: h.now(),
		FlakyTests:  flaky,
		Statistics:  totals,
	}
}
