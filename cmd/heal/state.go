package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kamilpajak/heisenberg-heal/internal/cache"
	"github.com/kamilpajak/heisenberg-heal/internal/config"
	"github.com/kamilpajak/heisenberg-heal/internal/cost"
	"github.com/kamilpajak/heisenberg-heal/internal/metrics"
	"github.com/kamilpajak/heisenberg-heal/pkg/models"
)

var stateJSON bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the repair cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show repair cache statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openCache()
		if err != nil {
			return err
		}
		stats := store.GetCacheStats()
		if stateJSON {
			return writeJSON(os.Stdout, stats)
		}
		printCacheStats(os.Stdout, stats)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove expired entries, or every entry with --all",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		store, path, err := openCache()
		if err != nil {
			return err
		}
		before := store.Size()
		if all {
			store.Clear()
		} else {
			store.Cleanup()
		}
		if err := store.ExportCache(path); err != nil {
			return err
		}
		fmt.Printf("Removed %d entries, %d left\n", before-store.Size(), store.Size())
		return nil
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show healing metrics from previous runs",
}

var metricsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored summary snapshots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(configPath)
		if err != nil {
			return err
		}
		history, err := metrics.LoadHistory(cfg.Storage.HistoryFile)
		if err != nil {
			return err
		}
		if stateJSON {
			return writeJSON(os.Stdout, history)
		}
		printHistory(os.Stdout, history)
		return nil
	},
}

var metricsReportFormat string

var metricsReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the latest summary snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(configPath)
		if err != nil {
			return err
		}
		history, err := metrics.LoadHistory(cfg.Storage.HistoryFile)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			return fmt.Errorf("no metrics history at %s, run heal first", cfg.Storage.HistoryFile)
		}
		out, err := renderSummary(history[len(history)-1].Summary, metricsReportFormat, cfg.Metrics.EnableVisualizations)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Show AI spend against the monthly budget",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(configPath)
		if err != nil {
			return err
		}
		opt, err := cost.NewOptimizer(cfg.Cost)
		if err != nil {
			return err
		}
		if err := opt.LoadLedger(cfg.Storage.LedgerFile); err != nil {
			return err
		}
		r := opt.GenerateCostReport()
		if stateJSON {
			return writeJSON(os.Stdout, r)
		}
		printCostReport(os.Stdout, r)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{cacheCmd, metricsCmd, costCmd} {
		c.PersistentFlags().BoolVar(&stateJSON, "json", false, "Output as JSON")
	}
	cacheClearCmd.Flags().Bool("all", false, "Remove every entry, not only expired ones")
	metricsReportCmd.Flags().StringVarP(&metricsReportFormat, "format", "f", "markdown", "Output format (markdown, html, json)")

	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
	metricsCmd.AddCommand(metricsHistoryCmd, metricsReportCmd)
}

func openCache() (*cache.Store[models.RepairPayload], string, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, "", err
	}
	store, err := cache.New[models.RepairPayload](cfg.Cache)
	if err != nil {
		return nil, "", err
	}
	path := cfg.Storage.CacheFile
	if err := store.ImportCache(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, "", err
	}
	return store, path, nil
}

func renderSummary(s metrics.Summary, format string, charts bool) (string, error) {
	switch format {
	case "markdown":
		return metrics.RenderMarkdown(s, charts), nil
	case "html":
		return metrics.RenderHTML(metrics.RenderMarkdown(s, charts))
	case "json":
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data) + "\n", nil
	default:
		return "", fmt.Errorf("unknown format %q, use markdown, html or json", format)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printCacheStats(w io.Writer, s cache.Stats) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintln(w, "REPAIR CACHE")
	fmt.Fprintf(w, "  Entries:        %d\n", s.TotalEntries)
	fmt.Fprintf(w, "  Hit rate:       %.1f%% (%d hits, %d misses)\n", s.HitRate*100, s.Hits, s.Misses)
	fmt.Fprintf(w, "  Evictions:      %d\n", s.Evictions)
	fmt.Fprintf(w, "  Expired:        %d\n", s.Expired)
	fmt.Fprintf(w, "  Size:           %d bytes (avg %.0f)\n", s.TotalSize, s.AverageSize)
	fmt.Fprintf(w, "  Oldest entry:   %s\n", s.OldestEntryAge.Round(time.Second))
	fmt.Fprintf(w, "  Est. savings:   $%.2f\n", s.EstimatedSavings)
	fmt.Fprintf(w, "  Effectiveness:  %.1f/100\n", s.Effectiveness)
}

func printHistory(w io.Writer, history []metrics.Snapshot) {
	if len(history) == 0 {
		fmt.Fprintln(w, "No metrics history yet.")
		return
	}
	dim := color.New(color.FgHiBlack)
	_, _ = dim.Fprintf(w, "%-20s %9s %9s %10s\n", "TAKEN", "ATTEMPTS", "SUCCESS", "COST")
	for _, snap := range history {
		fmt.Fprintf(w, "%-20s %9d %8.1f%% %10s\n",
			snap.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			snap.Summary.TotalAttempts, snap.Summary.SuccessRate,
			fmt.Sprintf("$%.4f", snap.Summary.TotalCost))
	}
}

func printCostReport(w io.Writer, r cost.Report) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintln(w, "AI SPEND")
	fmt.Fprintf(w, "  This month:  $%.4f of $%.2f (%.1f%%)\n", r.MonthlySpend, r.Budget.Limit, r.Budget.PercentUsed)
	fmt.Fprintf(w, "  Projected:   $%.2f (daily avg $%.4f)\n", r.Trends.ProjectedMonthly, r.Trends.DailyAverage)
	fmt.Fprintf(w, "  All time:    $%.4f over %d requests, %d tokens\n", r.TotalCost, r.Requests, r.TotalTokens)

	if len(r.ByModel) > 0 {
		fmt.Fprintln(w)
		_, _ = bold.Fprintln(w, "BY MODEL")
		for _, m := range r.ByModel {
			fmt.Fprintf(w, "  %-24s %5d req  $%.4f\n", m.Model, m.Requests, m.Cost)
		}
	}

	if len(r.Suggestions) > 0 {
		fmt.Fprintln(w)
		_, _ = bold.Fprintln(w, "SUGGESTIONS")
		fmt.Fprintln(w, "  "+strings.Join(r.Suggestions, "\n  "))
	}
}
