package analyzer

import (
	"regexp"

	"github.com/kamilpajak/heisenberg-heal/pkg/models"
)

// Patterns are checked in order; the first match wins. Element-state
// errors are checked before generic timeouts because Playwright reports
// many of them as "Timeout ... exceeded" with the locator in the message.
var classifiers = []struct {
	failureType models.FailureType
	pattern     *regexp.Regexp
}{
	{models.FailureNetwork, regexp.MustCompile(`(?i)net::ERR_|ECONNREFUSED|ECONNRESET|ENOTFOUND|EAI_AGAIN|socket hang up|fetch failed|status(?: code)? 5\d\d|\b50[234]\b`)},
	{models.FailureSelector, regexp.MustCompile(`(?i)strict mode violation|element (?:is )?not (?:found|visible|attached|enabled)|resolved to \d+ elements|no (?:element|node) found|unable to find element|detached from (?:the )?DOM`)},
	{models.FailureTimeout, regexp.MustCompile(`(?i)timeout|timed out|exceeded \d+\s*ms|deadline exceeded`)},
	{models.FailureInfra, regexp.MustCompile(`(?i)out of memory|ENOSPC|no space left|browser (?:has been )?closed|target (?:page, context or browser )?(?:has been )?closed|crashed|permission denied|executable doesn't exist`)},
	{models.FailureAssertion, regexp.MustCompile(`(?i)expect\(|assert|to(?:Be|Equal|Have|Contain|Match)\w*|expected .* (?:to|but)|Expected:|Received:`)},
}

// Classify infers a failure type from an error message
func Classify(message string) models.FailureType {
	for _, c := range classifiers {
		if c.pattern.MatchString(message) {
			return c.failureType
		}
	}
	return models.FailureUnknown
}

// LikelyFlaky reports whether failures of this type are commonly transient
func LikelyFlaky(t models.FailureType) bool {
	return t == models.FailureTimeout || t == models.FailureNetwork
}
