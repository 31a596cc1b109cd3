package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kamilpajak/heisenberg-heal/internal/analyzer"
	"github.com/kamilpajak/heisenberg-heal/pkg/models"
)

// FailedTestOptions controls how report failures become healing input.
type FailedTestOptions struct {
	// SourceRoot is joined with each test's file path to load its source.
	// Tests whose source cannot be read are still returned, without code.
	SourceRoot string
	// Now stamps tests when the report has no start time.
	Now func() time.Time
}

// ToFailedTests converts the failed cases of report into FailedTests. The
// failure type is inferred from the error text, and retries the runner
// already made count as previous attempts.
func ToFailedTests(report *models.Report, opts FailedTestOptions) []models.FailedTest {
	if report == nil {
		return nil
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ts := report.StartedAt
	if ts.IsZero() {
		ts = now()
	}

	sources := make(map[string]string)
	readSource := func(path string) string {
		if opts.SourceRoot == "" || path == "" {
			return ""
		}
		if code, ok := sources[path]; ok {
			return code
		}
		data, err := os.ReadFile(filepath.Join(opts.SourceRoot, path))
		if err != nil {
			sources[path] = ""
			return ""
		}
		sources[path] = string(data)
		return sources[path]
	}

	cases := report.FailedTestCases()
	out := make([]models.FailedTest, 0, len(cases))
	for _, tc := range cases {
		out = append(out, models.FailedTest{
			ID:               testID(tc),
			Name:             tc.Name,
			FilePath:         tc.FilePath,
			LineNumber:       tc.LineNumber,
			FailureType:      analyzer.Classify(tc.ErrorMessage + "\n" + tc.ErrorStack),
			ErrorMessage:     tc.ErrorMessage,
			ErrorStack:       tc.ErrorStack,
			TestCode:         readSource(tc.FilePath),
			Timestamp:        ts,
			PreviousAttempts: tc.Retries,
		})
	}
	return out
}

// testID is stable across runs so repeated failures of the same test map
// to the same retry and lock keys.
func testID(tc models.TestCase) string {
	switch {
	case tc.FilePath != "" && tc.LineNumber > 0:
		return tc.FilePath + ":" + strconv.Itoa(tc.LineNumber)
	case tc.FilePath != "":
		return fmt.Sprintf("%s#%s", tc.FilePath, tc.Name)
	default:
		return tc.Name
	}
}
