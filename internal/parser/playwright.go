// Package parser reads test-runner reports and turns their failures into
// healing input.
package parser

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kamilpajak/heisenberg-heal/pkg/models"
)

// PlaywrightParser parses Playwright JSON reports
type PlaywrightParser struct{}

// playwrightReport represents the raw Playwright JSON structure
type playwrightReport struct {
	Suites []playwrightSuite `json:"suites"`
	Stats  playwrightStats   `json:"stats"`
}

type playwrightStats struct {
	StartTime  time.Time `json:"startTime"`
	Duration   float64   `json:"duration"`
	Expected   int       `json:"expected"`
	Unexpected int       `json:"unexpected"`
	Flaky      int       `json:"flaky"`
	Skipped    int       `json:"skipped"`
	// Blob format uses these
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

type playwrightSuite struct {
	Title  string            `json:"title"`
	File   string            `json:"file"`
	Specs  []playwrightSpec  `json:"specs"`
	Suites []playwrightSuite `json:"suites"`
}

type playwrightSpec struct {
	Title string           `json:"title"`
	File  string           `json:"file"`
	Line  int              `json:"line"`
	OK    *bool            `json:"ok"`
	Tests []playwrightTest `json:"tests"`
}

type playwrightTest struct {
	Status  string             `json:"status"`
	Results []playwrightResult `json:"results"`
}

type playwrightResult struct {
	Status   string            `json:"status"`
	Duration int64             `json:"duration"`
	Retry    int               `json:"retry"`
	Errors   []playwrightError `json:"errors"`
}

type playwrightError struct {
	Message string `json:"message"`
	Stack   string `json:"stack"`
}

// Parse reads and parses a Playwright JSON report file
func (p *PlaywrightParser) Parse(path string) (*models.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	return p.ParseBytes(data)
}

// ParseBytes parses Playwright JSON from raw bytes
func (p *PlaywrightParser) ParseBytes(data []byte) (*models.Report, error) {
	var raw playwrightReport
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}

	return p.normalize(raw), nil
}

func (p *PlaywrightParser) normalize(raw playwrightReport) *models.Report {
	// Support both JSON reporter (expected/unexpected) and blob format (passed/failed)
	passed := raw.Stats.Passed
	if passed == 0 {
		passed = raw.Stats.Expected
	}

	// Flaky tests passed on retry; they are not failures.
	failed := raw.Stats.Failed
	if failed == 0 {
		failed = raw.Stats.Unexpected
	}

	total := raw.Stats.Total
	if total == 0 {
		total = passed + failed + raw.Stats.Flaky + raw.Stats.Skipped
	}

	report := &models.Report{
		Framework:    "playwright",
		TotalTests:   total,
		PassedTests:  passed,
		FailedTests:  failed,
		FlakyTests:   raw.Stats.Flaky,
		SkippedTests: raw.Stats.Skipped,
		DurationMS:   int64(raw.Stats.Duration),
		StartedAt:    raw.Stats.StartTime,
		Suites:       make([]models.TestSuite, 0, len(raw.Suites)),
	}

	for _, suite := range raw.Suites {
		report.Suites = append(report.Suites, p.normalizeSuite(suite, nil))
	}

	return report
}

// normalizeSuite flattens describe blocks into "parent > child" titles. The
// top-level suite is the file itself and does not prefix test names.
func (p *PlaywrightParser) normalizeSuite(raw playwrightSuite, path []string) models.TestSuite {
	suite := models.TestSuite{
		Name:     raw.Title,
		FilePath: raw.File,
		Tests:    make([]models.TestCase, 0),
		Suites:   make([]models.TestSuite, 0),
	}

	for _, spec := range raw.Specs {
		if test := p.normalizeSpec(spec, path); test != nil {
			if test.FilePath == "" {
				test.FilePath = raw.File
			}
			suite.Tests = append(suite.Tests, *test)
		}
	}

	for _, nested := range raw.Suites {
		suite.Suites = append(suite.Suites, p.normalizeSuite(nested, append(path[:len(path):len(path)], nested.Title)))
	}

	return suite
}

func (p *PlaywrightParser) normalizeSpec(spec playwrightSpec, path []string) *models.TestCase {
	if len(spec.Tests) == 0 {
		return nil
	}

	test := spec.Tests[0]
	if len(test.Results) == 0 {
		return nil
	}

	result := test.Results[len(test.Results)-1]

	tc := &models.TestCase{
		Name:       strings.Join(append(path[:len(path):len(path)], spec.Title), " > "),
		FilePath:   spec.File,
		LineNumber: spec.Line,
		DurationMS: result.Duration,
		Retries:    len(test.Results) - 1,
		Flaky:      test.Status == "flaky",
	}

	switch result.Status {
	case "passed":
		tc.Status = models.StatusPassed
	case "skipped":
		tc.Status = models.StatusSkipped
	default:
		tc.Status = models.StatusFailed
	}

	// The final result carries the failure being healed; earlier retries
	// may have failed differently.
	if len(result.Errors) > 0 {
		tc.ErrorMessage = result.Errors[0].Message
		tc.ErrorStack = result.Errors[0].Stack
	}

	return tc
}
