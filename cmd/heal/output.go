package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/kamilpajak/heisenberg-heal/internal/cost"
	"github.com/kamilpajak/heisenberg-heal/internal/metrics"
	"github.com/kamilpajak/heisenberg-heal/pkg/models"
)

func printReport(stderr, stdout io.Writer, hr *models.HealingReport, s metrics.Summary, budget cost.BudgetStatus) {
	bold := color.New(color.Bold)
	dim := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	fmt.Fprintln(stderr)
	_, _ = dim.Fprintln(stderr, "  "+strings.Repeat("━", 50))
	fmt.Fprintf(stderr, "  Healed %d of %d tests in %s\n",
		len(hr.SuccessfullyHealed), len(hr.SuccessfullyHealed)+len(hr.FailedHealing)+len(hr.Skipped),
		hr.TotalTime.Round(time.Millisecond))
	fmt.Fprintln(stderr)

	if len(hr.SuccessfullyHealed) > 0 {
		_, _ = bold.Fprintln(stdout, "HEALED")
		for _, r := range hr.SuccessfullyHealed {
			_, _ = green.Fprint(stdout, "  ✓ ")
			fmt.Fprintf(stdout, "%s ", r.TestName)
			_, _ = dim.Fprintf(stdout, "(%s, confidence %.0f%%%s)\n", r.Strategy, r.Confidence*100, cachedSuffix(r))
		}
		fmt.Fprintln(stdout)
	}

	if len(hr.FailedHealing) > 0 {
		_, _ = bold.Fprintln(stdout, "NOT HEALED")
		for _, r := range hr.FailedHealing {
			_, _ = red.Fprint(stdout, "  ✗ ")
			fmt.Fprintf(stdout, "%s ", r.TestName)
			_, _ = dim.Fprintf(stdout, "(%s)\n", r.Reason)
		}
		fmt.Fprintln(stdout)
	}

	if len(hr.Skipped) > 0 {
		_, _ = bold.Fprintln(stdout, "SKIPPED")
		for _, r := range hr.Skipped {
			_, _ = yellow.Fprint(stdout, "  - ")
			fmt.Fprintf(stdout, "%s ", r.TestName)
			_, _ = dim.Fprintf(stdout, "(%s)\n", r.Reason)
		}
		fmt.Fprintln(stdout)
	}

	fmt.Fprintf(stderr, "  Attempts: %d | Success rate: %.1f%% | Cost: $%.4f\n",
		s.TotalAttempts, s.SuccessRate, s.TotalCost)
	printBudgetBar(stderr, budget)

	for _, w := range s.Warnings {
		_, _ = yellow.Fprintf(stderr, "  Warning: %s\n", w)
	}
	for _, r := range s.Recommendations {
		_, _ = dim.Fprintf(stderr, "  Tip: %s\n", r)
	}
}

// printFlaky lists tests that only passed on a retry. They are not healed.
func printFlaky(w io.Writer, flaky []models.TestCase) {
	if len(flaky) == 0 {
		return
	}
	yellow := color.New(color.FgYellow)
	dim := color.New(color.FgHiBlack)
	_, _ = yellow.Fprintf(w, "%d flaky tests passed on retry and were left alone:\n", len(flaky))
	for _, tc := range flaky {
		fmt.Fprintf(w, "  ~ %s ", tc.Name)
		_, _ = dim.Fprintf(w, "(%s:%d, %d retries)\n", tc.FilePath, tc.LineNumber, tc.Retries)
	}
}

func cachedSuffix(r models.HealingResult) string {
	if r.CacheHit {
		return ", cached"
	}
	return ""
}

// printBudgetBar renders the share of the monthly budget already spent.
func printBudgetBar(w io.Writer, b cost.BudgetStatus) {
	const barWidth = 24
	if b.Limit <= 0 {
		fmt.Fprintln(w, "  Budget: none configured")
		return
	}

	pct := b.PercentUsed
	filled := int(pct * barWidth / 100)
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}

	var barColor *color.Color
	switch {
	case pct >= 100:
		barColor = color.New(color.FgRed)
	case b.AtWarningThreshold:
		barColor = color.New(color.FgYellow)
	default:
		barColor = color.New(color.FgGreen)
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	fmt.Fprintf(w, "  Budget: %.0f%% ", pct)
	_, _ = barColor.Fprint(w, bar)
	dim := color.New(color.FgHiBlack)
	_, _ = dim.Fprintf(w, " ($%.2f of $%.2f, resets %s)\n", b.Spent, b.Limit, b.ResetDate.Format("2006-01-02"))
}

// renderReportMarkdown lists every result as a Markdown table.
func renderReportMarkdown(hr *models.HealingReport) string {
	var b strings.Builder
	b.WriteString("# Healing Report\n\n")
	fmt.Fprintf(&b, "- Healed: %d\n", len(hr.SuccessfullyHealed))
	fmt.Fprintf(&b, "- Not healed: %d\n", len(hr.FailedHealing))
	fmt.Fprintf(&b, "- Skipped: %d\n", len(hr.Skipped))
	fmt.Fprintf(&b, "- Attempts: %d\n\n", hr.HealingAttempts)

	b.WriteString("| Test | Outcome | Strategy | Confidence | Reason |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, group := range [][]models.HealingResult{hr.SuccessfullyHealed, hr.FailedHealing, hr.Skipped} {
		for _, r := range group {
			conf := "-"
			if r.Confidence > 0 {
				conf = fmt.Sprintf("%.0f%%", r.Confidence*100)
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				escapeCell(r.TestName), r.Outcome, orDash(string(r.Strategy)), conf, orDash(escapeCell(r.Reason)))
		}
	}
	b.WriteString("\n")
	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
