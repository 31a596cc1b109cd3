package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/kamilpajak/heisenberg-heal/pkg/models"
)

// testCodePrefix bounds how much test code feeds the convenience key.
const testCodePrefix = 500

// specDiffSummaryLen bounds how much of a spec diff feeds the convenience key.
const specDiffSummaryLen = 200

// KeyContext identifies a repair independent of which test hit it.
type KeyContext struct {
	FailureType  models.FailureType `json:"failure_type"`
	SpecDiffHash string             `json:"spec_diff_hash"`
	TestCodeHash string             `json:"test_code_hash"`
	Extra        map[string]any     `json:"extra,omitempty"`
}

// HealingContext is the raw material the convenience key is derived from.
type HealingContext struct {
	Test     models.FailedTest
	SpecDiff string
}

// GenerateCacheKey hashes ctx deterministically. encoding/json sorts map
// keys, so equal contexts always encode identically.
func GenerateCacheKey(ctx KeyContext) string {
	data, err := json.Marshal(ctx)
	if err != nil {
		// Extra held something unencodable; fall back to the fixed fields.
		data, _ = json.Marshal(KeyContext{
			FailureType:  ctx.FailureType,
			SpecDiffHash: ctx.SpecDiffHash,
			TestCodeHash: ctx.TestCodeHash,
		})
	}
	return hashBytes(data)
}

// GenerateCacheKeyFromContext keys on the failure type, a spec-diff summary,
// the first 500 characters of test code and the error message.
func GenerateCacheKeyFromContext(hc HealingContext) string {
	payload := struct {
		FailureType  models.FailureType `json:"failure_type"`
		SpecDiff     string             `json:"spec_diff"`
		TestCode     string             `json:"test_code"`
		ErrorMessage string             `json:"error_message"`
	}{
		FailureType:  hc.Test.FailureType,
		SpecDiff:     truncate(hc.SpecDiff, specDiffSummaryLen),
		TestCode:     truncate(hc.Test.TestCode, testCodePrefix),
		ErrorMessage: hc.Test.ErrorMessage,
	}
	data, _ := json.Marshal(payload)
	return hashBytes(data)
}

// HashString returns the hex SHA-256 of s.
func HashString(s string) string {
	return hashBytes([]byte(s))
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
