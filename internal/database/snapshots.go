package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kamilpajak/heisenberg-heal/internal/metrics"
)

// SaveSnapshot stores a summary snapshot. The headline numbers are kept in
// columns for querying; the full summary is kept as JSONB.
func (db *DB) SaveSnapshot(ctx context.Context, s metrics.Snapshot) error {
	data, err := json.Marshal(s.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO summary_snapshots (taken_at, total_attempts, success_rate, total_cost, summary)
		 VALUES ($1, $2, $3, $4, $5)`,
		s.Timestamp, s.Summary.TotalAttempts, s.Summary.SuccessRate, s.Summary.TotalCost, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns up to limit snapshots, newest first.
func (db *DB) ListSnapshots(ctx context.Context, limit int) ([]metrics.Snapshot, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := db.pool.Query(ctx,
		`SELECT taken_at, summary FROM summary_snapshots
		 ORDER BY taken_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []metrics.Snapshot{}
	for rows.Next() {
		var (
			s    metrics.Snapshot
			data []byte
		)
		if err := rows.Scan(&s.Timestamp, &data); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if err := json.Unmarshal(data, &s.Summary); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}
