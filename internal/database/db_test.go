package database

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/kamilpajak/heisenberg-heal/internal/metrics"
	"github.com/kamilpajak/heisenberg-heal/pkg/models"
)

var (
	containerOnce sync.Once
	container     *postgres.PostgresContainer
	containerURL  string
	containerErr  error
)

func TestMain(m *testing.M) {
	code := m.Run()
	if container != nil {
		_ = testcontainers.TerminateContainer(container)
	}
	os.Exit(code)
}

// testURL returns DATABASE_URL when set, otherwise starts a throwaway
// Postgres container shared by the package. Skips under -short or when no
// container runtime is available.
func testURL(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database tests in short mode")
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)
	containerOnce.Do(func() {
		ctx := context.Background()
		container, containerErr = postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("heal"),
			postgres.WithUsername("heal"),
			postgres.WithPassword("heal"),
			postgres.BasicWaitStrategies(),
		)
		if containerErr != nil {
			return
		}
		containerURL, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	require.NoError(t, containerErr)
	return containerURL
}

// testDB returns a migrated, connected DB.
func testDB(t *testing.T) *DB {
	t.Helper()
	url := testURL(t)
	require.NoError(t, Migrate(url))

	db, err := New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(context.Background(), "")
	assert.ErrorContains(t, err, "database URL is required")
}

func TestMigrations(t *testing.T) {
	url := testURL(t)

	// Don't run MigrateDown as it interferes with other tests sharing the database
	require.NoError(t, Migrate(url))
	require.NoError(t, Migrate(url), "migrations are idempotent")

	version, dirty, err := SchemaVersion(url)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
}

func sealedAttempt(testID string, success bool) metrics.Attempt {
	start := time.Now().UTC().Truncate(time.Millisecond)
	return metrics.Attempt{
		ID:            uuid.NewString(),
		TestID:        testID,
		TestName:      "checkout > pays",
		FailureType:   models.FailureSelector,
		StartTime:     start,
		EndTime:       start.Add(1500 * time.Millisecond),
		Sealed:        true,
		Success:       success,
		Duration:      1500 * time.Millisecond,
		Strategy:      models.StrategyAIPowered,
		TokensUsed:    500,
		EstimatedCost: 0.02,
	}
}

func TestAttemptRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	testID := "checkout.spec.ts:" + uuid.NewString()[:8]

	failed := sealedAttempt(testID, false)
	failed.FailureReason = "confidence 0.40 below 0.70"
	require.NoError(t, db.SaveAttempt(ctx, failed))

	healed := sealedAttempt(testID, true)
	healed.StartTime = failed.StartTime.Add(time.Second)
	healed.Strategy = models.StrategyFallback
	healed.FallbackReason = "budget-exceeded"
	require.NoError(t, db.SaveAttempt(ctx, healed))

	attempts, err := db.ListAttemptsForTest(ctx, testID, 10)
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	newest := attempts[0]
	assert.Equal(t, healed.ID, newest.ID)
	assert.True(t, newest.Success)
	assert.True(t, newest.Sealed)
	assert.Equal(t, models.StrategyFallback, newest.Strategy)
	assert.Equal(t, "budget-exceeded", newest.FallbackReason)
	assert.Empty(t, newest.FailureReason)
	assert.Equal(t, 1500*time.Millisecond, newest.Duration)
	assert.True(t, healed.StartTime.Equal(newest.StartTime))

	oldest := attempts[1]
	assert.Equal(t, "confidence 0.40 below 0.70", oldest.FailureReason)
	assert.Equal(t, models.FailureSelector, oldest.FailureType)
	assert.Equal(t, 500, oldest.TokensUsed)
	assert.InDelta(t, 0.02, oldest.EstimatedCost, 1e-9)
}

func TestSaveAttempt_Upsert(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	testID := "upsert:" + uuid.NewString()[:8]

	a := sealedAttempt(testID, false)
	require.NoError(t, db.SaveAttempt(ctx, a))
	a.Success = true
	require.NoError(t, db.SaveAttempt(ctx, a))

	attempts, err := db.ListAttemptsForTest(ctx, testID, 0)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)
}

func TestSaveAttempt_Rejects(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	open := sealedAttempt("t", true)
	open.Sealed = false
	assert.ErrorContains(t, db.SaveAttempt(ctx, open), "not sealed")

	bad := sealedAttempt("t", true)
	bad.ID = "not-a-uuid"
	assert.ErrorContains(t, db.SaveAttempt(ctx, bad), "invalid attempt id")
}

func TestCountAttemptsSince(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	// Far in the future so rows written by other tests are excluded.
	since := time.Now().UTC().AddDate(50, 0, 0)
	testID := "count:" + uuid.NewString()[:8]

	for i, success := range []bool{true, false, true} {
		a := sealedAttempt(testID, success)
		a.StartTime = since.Add(time.Duration(i) * time.Minute)
		a.CacheHit = i == 2
		if a.CacheHit {
			a.EstimatedCost = 0
		}
		require.NoError(t, db.SaveAttempt(ctx, a))
	}

	counts, err := db.CountAttemptsSince(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total)
	assert.Equal(t, 2, counts.Successful)
	assert.Equal(t, 1, counts.CacheHits)
	assert.InDelta(t, 0.04, counts.TotalCost, 1e-9)

	_, err = db.pool.Exec(ctx, `DELETE FROM healing_attempts WHERE test_id = $1`, testID)
	require.NoError(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	taken := time.Now().UTC().AddDate(100, 0, 0).Truncate(time.Microsecond)
	snap := metrics.Snapshot{
		Timestamp: taken,
		Summary: metrics.Summary{
			TotalAttempts: 3,
			Successful:    2,
			Failed:        1,
			SuccessRate:   66.67,
			TotalCost:     0.04,
			ByFailureType: map[models.FailureType]metrics.TypeMetrics{
				models.FailureTimeout: {Attempts: 3, Successful: 2, Failed: 1},
			},
			Warnings:        []string{},
			Recommendations: []string{"Enable the repair cache"},
		},
	}
	require.NoError(t, db.SaveSnapshot(ctx, snap))

	snapshots, err := db.ListSnapshots(ctx, 1)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)

	got := snapshots[0]
	assert.True(t, taken.Equal(got.Timestamp))
	assert.Equal(t, 3, got.Summary.TotalAttempts)
	assert.InDelta(t, 66.67, got.Summary.SuccessRate, 1e-9)
	assert.Equal(t, 2, got.Summary.ByFailureType[models.FailureTimeout].Successful)
	assert.Equal(t, []string{"Enable the repair cache"}, got.Summary.Recommendations)

	_, err = db.pool.Exec(ctx, `DELETE FROM summary_snapshots WHERE taken_at = $1`, taken)
	require.NoError(t, err)
}
