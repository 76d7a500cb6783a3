package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mtzanidakis/swarmvote/internal/results"
)

// Append inserts one result row. A robot appears at most once per round, so
// a retry after an ambiguous failure is a no-op instead of a second row.
func (s *Store) Append(ctx context.Context, rec results.Record) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	status := rec.Status
	if status == "" {
		status = results.StatusOK
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO results (round, robot_id, proposal, decision, status, convergence_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(round, robot_id) DO NOTHING`,
		rec.Round, rec.RobotID, rec.Proposal, rec.Decision, status,
		rec.Convergence.Milliseconds(), ts.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// ListResults returns the rows of one round, or of every round when round is
// empty, in recording order.
func (s *Store) ListResults(ctx context.Context, round string) ([]results.Record, error) {
	query := `SELECT round, robot_id, proposal, decision, status, convergence_ms, recorded_at FROM results`
	var args []any
	if round != "" {
		query += ` WHERE round = ?`
		args = append(args, round)
	}
	query += ` ORDER BY round, recorded_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []results.Record
	for rows.Next() {
		var (
			rec         results.Record
			convergence int64
			recordedAt  string
		)
		if err := rows.Scan(&rec.Round, &rec.RobotID, &rec.Proposal, &rec.Decision, &rec.Status, &convergence, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		rec.Convergence = time.Duration(convergence) * time.Millisecond
		rec.Timestamp, err = time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parse recorded_at %q: %w", recordedAt, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
