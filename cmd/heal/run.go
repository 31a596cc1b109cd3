package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kamilpajak/heisenberg-heal/internal/config"
	"github.com/kamilpajak/heisenberg-heal/internal/logger"
	"github.com/kamilpajak/heisenberg-heal/internal/metrics"
	"github.com/kamilpajak/heisenberg-heal/internal/parser"
	"github.com/kamilpajak/heisenberg-heal/internal/retry"
	"github.com/kamilpajak/heisenberg-heal/pkg/models"
)

var (
	runCacheFile   string
	runHistoryFile string
	runFormat      string
	runSourceRoot  string
	runSpecDiff    string
)

var runCmd = &cobra.Command{
	Use:   "run <report.json>",
	Short: "Heal the failing tests in a Playwright JSON report",
	Long: `Parse a Playwright JSON report, regenerate every failing test and print
the healing report.

Examples:
  heal run ./playwright-report/results.json
  heal run ./results.json --source-root ./e2e --format json
  heal run ./results.json --spec-diff ./api.diff --format markdown`,
	Args: cobra.ExactArgs(1),
	RunE: runHeal,
}

func init() {
	runCmd.Flags().StringVar(&runCacheFile, "cache-file", "", "Override storage.cache_file")
	runCmd.Flags().StringVar(&runHistoryFile, "history", "", "Override storage.history_file")
	runCmd.Flags().StringVarP(&runFormat, "format", "f", "text", "Output format (text, json, markdown)")
	runCmd.Flags().StringVar(&runSourceRoot, "source-root", "", "Directory test file paths are relative to")
	runCmd.Flags().StringVar(&runSpecDiff, "spec-diff", "", "File with the API spec diff behind the failures")
}

// runOutput is the JSON document printed by --format json.
type runOutput struct {
	Report  *models.HealingReport `json:"report"`
	Summary metrics.Summary       `json:"summary"`
	Flaky   retry.FlakyReport     `json:"flaky"`
}

func runHeal(cmd *cobra.Command, args []string) error {
	switch runFormat {
	case "text", "json", "markdown":
	default:
		return fmt.Errorf("unknown format %q, use text, json or markdown", runFormat)
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	if runCacheFile != "" {
		cfg.Storage.CacheFile = runCacheFile
	}
	if runHistoryFile != "" {
		cfg.Storage.HistoryFile = runHistoryFile
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	p := &parser.PlaywrightParser{}
	report, err := p.Parse(args[0])
	if err != nil {
		return fmt.Errorf("failed to parse report: %w", err)
	}
	tests := parser.ToFailedTests(report, parser.FailedTestOptions{SourceRoot: runSourceRoot})
	printFlaky(os.Stderr, report.FlakyTestCases())
	if len(tests) == 0 {
		fmt.Println("No test failures found.")
		return nil
	}

	var specDiff string
	if runSpecDiff != "" {
		data, err := os.ReadFile(runSpecDiff)
		if err != nil {
			return fmt.Errorf("failed to read spec diff: %w", err)
		}
		specDiff = string(data)
	}

	e, err := newEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer e.Close()

	fmt.Fprintf(os.Stderr, "Found %d failures in %d tests (%s strategy)\n",
		len(tests), report.TotalTests, cfg.Healing.Strategy)

	stopSpinner := startSpinner(fmt.Sprintf(" Healing %d tests...", len(tests)))
	hr, healErr := e.orch.Heal(ctx, tests, specDiff)
	stopSpinner()

	if err := e.persist(ctx); err != nil {
		log.Error("failed to persist state", zap.Error(err))
	}
	if hr == nil {
		return healErr
	}

	switch runFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(runOutput{
			Report:  hr,
			Summary: e.metrics.GenerateSummary(),
			Flaky:   e.retry.GenerateFlakyTestReport(),
		}); err != nil {
			return err
		}
	case "markdown":
		fmt.Print(renderReportMarkdown(hr))
		fmt.Print(e.metrics.ExportToMarkdown())
	default:
		printReport(os.Stderr, os.Stdout, hr, e.metrics.GenerateSummary(), e.cost.CheckBudgetLimit())
	}
	return healErr
}

// startSpinner shows progress on an interactive stderr and returns the
// function that stops it.
func startSpinner(suffix string) func() {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = suffix
	s.Start()
	return s.Stop
}
