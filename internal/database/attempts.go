package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kamilpajak/heisenberg-heal/internal/metrics"
	"github.com/kamilpajak/heisenberg-heal/pkg/models"
)

// attemptColumns is the standard column list for attempt queries.
const attemptColumns = `id, test_id, test_name, failure_type, strategy, success, cache_hit,
	tokens_used, estimated_cost, duration_ms, failure_reason, fallback_reason, started_at, ended_at`

// SaveAttempt upserts a sealed healing attempt. Open attempts are rejected
// because their outcome is not known yet.
func (db *DB) SaveAttempt(ctx context.Context, a metrics.Attempt) error {
	if !a.Sealed {
		return fmt.Errorf("attempt %s is not sealed", a.ID)
	}
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return fmt.Errorf("invalid attempt id %q: %w", a.ID, err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO healing_attempts (`+attemptColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO UPDATE SET
			success = EXCLUDED.success,
			cache_hit = EXCLUDED.cache_hit,
			tokens_used = EXCLUDED.tokens_used,
			estimated_cost = EXCLUDED.estimated_cost,
			duration_ms = EXCLUDED.duration_ms,
			failure_reason = EXCLUDED.failure_reason,
			fallback_reason = EXCLUDED.fallback_reason,
			ended_at = EXCLUDED.ended_at`,
		id, a.TestID, a.TestName, string(a.FailureType), string(a.Strategy), a.Success, a.CacheHit,
		a.TokensUsed, a.EstimatedCost, a.Duration.Milliseconds(),
		nullable(a.FailureReason), nullable(a.FallbackReason), a.StartTime, a.EndTime,
	)
	if err != nil {
		return fmt.Errorf("failed to save attempt: %w", err)
	}
	return nil
}

// ListAttemptsForTest returns the attempts for a test, newest first.
func (db *DB) ListAttemptsForTest(ctx context.Context, testID string, limit int) ([]metrics.Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM healing_attempts
		 WHERE test_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		testID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []metrics.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// AttemptCounts aggregates attempts over a time window.
type AttemptCounts struct {
	Total      int     `json:"total"`
	Successful int     `json:"successful"`
	CacheHits  int     `json:"cache_hits"`
	TotalCost  float64 `json:"total_cost"`
}

// CountAttemptsSince aggregates attempts started at or after since.
func (db *DB) CountAttemptsSince(ctx context.Context, since time.Time) (AttemptCounts, error) {
	var c AttemptCounts
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE success),
			COUNT(*) FILTER (WHERE cache_hit),
			COALESCE(SUM(estimated_cost), 0)
		 FROM healing_attempts
		 WHERE started_at >= $1`,
		since,
	).Scan(&c.Total, &c.Successful, &c.CacheHits, &c.TotalCost)
	if err != nil {
		return AttemptCounts{}, fmt.Errorf("failed to count attempts: %w", err)
	}
	return c, nil
}

func scanAttempt(row pgx.Row) (*metrics.Attempt, error) {
	var (
		a              metrics.Attempt
		id             uuid.UUID
		failureType    string
		strategy       string
		durationMS     int64
		failureReason  *string
		fallbackReason *string
	)
	err := row.Scan(
		&id, &a.TestID, &a.TestName, &failureType, &strategy, &a.Success, &a.CacheHit,
		&a.TokensUsed, &a.EstimatedCost, &durationMS, &failureReason, &fallbackReason,
		&a.StartTime, &a.EndTime,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan attempt: %w", err)
	}
	a.ID = id.String()
	a.FailureType = models.FailureType(failureType)
	a.Strategy = models.Strategy(strategy)
	a.Duration = time.Duration(durationMS) * time.Millisecond
	a.Sealed = true
	if failureReason != nil {
		a.FailureReason = *failureReason
	}
	if fallbackReason != nil {
		a.FallbackReason = *fallbackReason
	}
	return &a, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
