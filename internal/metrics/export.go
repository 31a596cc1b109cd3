package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const barWidth = 40

// ExportToJSON renders the current summary as indented JSON.
func (m *Metrics) ExportToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(m.GenerateSummary(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary: %w", err)
	}
	return data, nil
}

// ExportToMarkdown renders the current summary as a Markdown report.
func (m *Metrics) ExportToMarkdown() string {
	return RenderMarkdown(m.GenerateSummary(), m.cfg.EnableVisualizations)
}

// ExportToHTML renders the Markdown report to an HTML fragment.
func (m *Metrics) ExportToHTML() (string, error) {
	return RenderHTML(m.ExportToMarkdown())
}

// RenderMarkdown formats s. With charts enabled a bar chart of attempt
// volume per failure type follows the table.
func RenderMarkdown(s Summary, charts bool) string {
	var b strings.Builder

	b.WriteString("# Healing Metrics Report\n\n")
	fmt.Fprintf(&b, "Period: %s to %s\n\n",
		s.Period.Start.UTC().Format("2006-01-02 15:04:05"),
		s.Period.End.UTC().Format("2006-01-02 15:04:05"))

	b.WriteString("## Overview\n\n")
	fmt.Fprintf(&b, "- Total attempts: %d\n", s.TotalAttempts)
	fmt.Fprintf(&b, "- Successful: %d\n", s.Successful)
	fmt.Fprintf(&b, "- Failed: %d\n", s.Failed)
	fmt.Fprintf(&b, "- Success rate: %.2f%%\n", s.SuccessRate)
	fmt.Fprintf(&b, "- Average time: %.0fms\n", s.AverageTimeMS)
	fmt.Fprintf(&b, "- Total cost: $%.4f\n\n", s.TotalCost)

	if len(s.ByFailureType) > 0 {
		b.WriteString("## By Failure Type\n\n")
		b.WriteString("| Failure Type | Attempts | Successful | Failed | Success Rate | Avg Time | Cost |\n")
		b.WriteString("|---|---|---|---|---|---|---|\n")
		for _, ft := range sortedTypes(s.ByFailureType) {
			tm := s.ByFailureType[ft]
			fmt.Fprintf(&b, "| %s | %d | %d | %d | %.1f%% | %.0fms | $%.4f |\n",
				ft, tm.Attempts, tm.Successful, tm.Failed, tm.SuccessRate, tm.AverageTimeMS, tm.TotalCost)
		}
		b.WriteString("\n")

		if charts {
			writeBarChart(&b, s)
		}
	}

	b.WriteString("## AI Usage\n\n")
	fmt.Fprintf(&b, "- Times used: %d\n", s.AIUsage.TimesUsed)
	fmt.Fprintf(&b, "- Total tokens: %d (prompt ~%d, completion ~%d)\n",
		s.AIUsage.TotalTokens, s.AIUsage.PromptTokens, s.AIUsage.CompletionTokens)
	fmt.Fprintf(&b, "- Total cost: $%.4f\n", s.AIUsage.TotalCost)
	fmt.Fprintf(&b, "- Success rate: %.1f%%\n", s.AIUsage.SuccessRate)
	fmt.Fprintf(&b, "- Cache hit rate: %.1f%%\n\n", s.AIUsage.CacheHitRate)

	if s.FallbackUsage.TimesUsed > 0 {
		b.WriteString("## Fallback Usage\n\n")
		fmt.Fprintf(&b, "- Times used: %d\n", s.FallbackUsage.TimesUsed)
		fmt.Fprintf(&b, "- Success rate: %.1f%%\n", s.FallbackUsage.SuccessRate)
		reasons := make([]string, 0, len(s.FallbackUsage.Reasons))
		for r := range s.FallbackUsage.Reasons {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(&b, "- %s: %d\n", r, s.FallbackUsage.Reasons[r])
		}
		b.WriteString("\n")
	}

	writeList(&b, "Warnings", s.Warnings)
	writeList(&b, "Recommendations", s.Recommendations)
	return b.String()
}

func writeBarChart(b *strings.Builder, s Summary) {
	types := sortedTypes(s.ByFailureType)
	longest, most := 0, 0
	for _, ft := range types {
		longest = max(longest, len(ft))
		most = max(most, s.ByFailureType[ft].Attempts)
	}

	b.WriteString("### Attempt Volume\n\n```\n")
	for _, ft := range types {
		n := s.ByFailureType[ft].Attempts
		width := n * barWidth / most
		if width == 0 && n > 0 {
			width = 1
		}
		fmt.Fprintf(b, "%-*s | %s %d\n", longest, ft, strings.Repeat("█", width), n)
	}
	b.WriteString("```\n\n")
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

// RenderHTML converts a Markdown report, tables included, to HTML.
func RenderHTML(markdown string) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return buf.String(), nil
}
