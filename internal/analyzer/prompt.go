package analyzer

import (
	"fmt"
	"strings"

	"github.com/kamilpajak/heisenberg-heal/pkg/models"
)

const analysisSystemPrompt = `You are an expert test failure analyst. Classify why a single end-to-end test failed.

Respond in JSON format with the following structure:
{
  "failure_type": "assertion|timeout|network|selector|infra|unknown",
  "root_cause": "Clear explanation of why the test failed",
  "likely_flaky": true,
  "confidence": 0.0,
  "suggestions": ["Specific actionable fix"]
}

confidence is between 0 and 1. Be concise.`

const regenerationSystemPrompt = `You are an expert Playwright test engineer. You repair failing tests so they pass against the current application and API spec, without weakening what they verify.

Rules:
1. Return the complete repaired test, not a diff
2. Keep assertions that still match the spec; update the ones the spec changed
3. Prefer role and test-id locators and explicit waits over fixed sleeps
4. Never delete a test or replace it with a skip

Respond in JSON format with the following structure:
{
  "fixed_code": "the full repaired test source",
  "confidence": 0.0,
  "explanation": "One or two sentences on what changed and why"
}

confidence is between 0 and 1 and reflects how sure you are the fix makes the test pass.`

const (
	maxErrorChars = 500
	maxStackChars = 1000
	maxDiffChars  = 4000
)

// BuildAnalysisPrompt renders one failed test for diagnosis
func BuildAnalysisPrompt(test models.FailedTest) string {
	var sb strings.Builder
	writeTest(&sb, test)
	return sb.String()
}

// BuildRegenerationPrompt renders everything the model needs to repair a test
func BuildRegenerationPrompt(rc models.RegenerationContext) string {
	var sb strings.Builder
	writeTest(&sb, rc.Test)

	if a := rc.Analysis; a != nil {
		sb.WriteString("## Diagnosis\n")
		fmt.Fprintf(&sb, "- Failure type: %s\n", a.FailureType)
		if a.RootCause != "" {
			fmt.Fprintf(&sb, "- Root cause: %s\n", a.RootCause)
		}
		fmt.Fprintf(&sb, "- Likely flaky: %t\n", a.LikelyFlaky)
		for _, s := range a.Suggestions {
			fmt.Fprintf(&sb, "- Suggestion: %s\n", s)
		}
		sb.WriteString("\n")
	}

	if rc.SpecDiff != "" {
		fmt.Fprintf(&sb, "## API Spec Changes\n```diff\n%s\n```\n\n", truncate(rc.SpecDiff, maxDiffChars, "\n..."))
	}

	if rc.Attempt > 0 {
		fmt.Fprintf(&sb, "## Previous Attempt\nThis is repair attempt %d. ", rc.Attempt+1)
		if rc.PreviousError != "" {
			fmt.Fprintf(&sb, "The previous fix was rejected: %s\n\n", rc.PreviousError)
		} else {
			sb.WriteString("The previous fix was rejected.\n\n")
		}
	}

	if rc.Test.TestCode == "" {
		sb.WriteString("The test source is not available. Describe the fix as code that replaces the failing step.\n")
	}
	return sb.String()
}

func writeTest(sb *strings.Builder, test models.FailedTest) {
	fmt.Fprintf(sb, "## Failed Test\n### %s\n", test.Name)
	if loc := test.Location(); loc != "" {
		fmt.Fprintf(sb, "**Location:** `%s`\n", loc)
	}
	if test.FailureType != "" {
		fmt.Fprintf(sb, "**Reported failure type:** %s\n", test.FailureType)
	}
	if test.PreviousAttempts > 0 {
		fmt.Fprintf(sb, "**Retries before failing:** %d\n", test.PreviousAttempts)
	}
	if test.ErrorMessage != "" {
		fmt.Fprintf(sb, "**Error:**\n```\n%s\n```\n", truncate(test.ErrorMessage, maxErrorChars, "..."))
	}
	if test.ErrorStack != "" {
		fmt.Fprintf(sb, "**Stack Trace:**\n```\n%s\n```\n", truncate(test.ErrorStack, maxStackChars, "\n..."))
	}
	if test.TestCode != "" {
		fmt.Fprintf(sb, "**Test Source:**\n```ts\n%s\n```\n", test.TestCode)
	}
	sb.WriteString("\n")
}

func truncate(s string, n int, suffix string) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + suffix
}
