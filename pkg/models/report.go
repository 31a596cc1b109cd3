package models

import "time"

// TestStatus represents the status of a test case
type TestStatus string

const (
	StatusPassed  TestStatus = "passed"
	StatusFailed  TestStatus = "failed"
	StatusSkipped TestStatus = "skipped"
)

// TestCase represents a single test result
type TestCase struct {
	Name         string     `json:"name"`
	Status       TestStatus `json:"status"`
	DurationMS   int64      `json:"duration_ms,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ErrorStack   string     `json:"error_stack,omitempty"`
	FilePath     string     `json:"file_path,omitempty"`
	LineNumber   int        `json:"line_number,omitempty"`
	Retries      int        `json:"retries,omitempty"`
	Flaky        bool       `json:"flaky,omitempty"`
}

// TestSuite represents a collection of test cases
type TestSuite struct {
	Name     string      `json:"name"`
	Tests    []TestCase  `json:"tests"`
	Suites   []TestSuite `json:"suites,omitempty"`
	FilePath string      `json:"file_path,omitempty"`
}

// Report represents a normalized test report
type Report struct {
	Framework    string      `json:"framework"`
	TotalTests   int         `json:"total_tests"`
	PassedTests  int         `json:"passed_tests"`
	FailedTests  int         `json:"failed_tests"`
	FlakyTests   int         `json:"flaky_tests"`
	SkippedTests int         `json:"skipped_tests"`
	DurationMS   int64       `json:"duration_ms,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	Suites       []TestSuite `json:"suites"`
}

// HasFailures returns true if the report contains any failures
func (r *Report) HasFailures() bool {
	return r.FailedTests > 0
}

// FlakyTestCases returns tests that passed only after a retry
func (r *Report) FlakyTestCases() []TestCase {
	var flaky []TestCase
	for _, suite := range r.Suites {
		flaky = append(flaky, collectTests(suite, func(tc TestCase) bool { return tc.Flaky })...)
	}
	return flaky
}

// FailedTestCases returns all failed test cases from the report
func (r *Report) FailedTestCases() []TestCase {
	var failed []TestCase
	for _, suite := range r.Suites {
		failed = append(failed, collectTests(suite, func(tc TestCase) bool { return tc.Status == StatusFailed })...)
	}
	return failed
}

func collectTests(suite TestSuite, keep func(TestCase) bool) []TestCase {
	var out []TestCase
	for _, test := range suite.Tests {
		if keep(test) {
			out = append(out, test)
		}
	}
	for _, nested := range suite.Suites {
		out = append(out, collectTests(nested, keep)...)
	}
	return out
}
