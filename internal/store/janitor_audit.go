package store

import (
	"context"
	"fmt"
	"time"
)

// SweepRecord is one janitor tick's audit row.
type SweepRecord struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Deletions  int
	Errors     int
}

// RecordSweep persists one janitor tick for audit/history purposes.
func (s *Store) RecordSweep(ctx context.Context, rec SweepRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO janitor_sweeps (started_at, finished_at, deletions, errors) VALUES ($1, $2, $3, $4)`,
		rec.StartedAt, rec.FinishedAt, rec.Deletions, rec.Errors,
	)
	if err != nil {
		return fmt.Errorf("store: record sweep: %w", err)
	}
	return nil
}

// RecentSweeps returns the last limit sweep records, most recent first.
func (s *Store) RecentSweeps(ctx context.Context, limit int) ([]SweepRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT started_at, finished_at, deletions, errors FROM janitor_sweeps ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent sweeps: %w", err)
	}
	defer rows.Close()

	var out []SweepRecord
	for rows.Next() {
		var r SweepRecord
		if err := rows.Scan(&r.StartedAt, &r.FinishedAt, &r.Deletions, &r.Errors); err != nil {
			return nil, fmt.Errorf("store: scan sweep row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
