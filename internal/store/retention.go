package store

import (
	"context"
	"fmt"
	"time"
)

// RetentionResult reports how many rows a retention pass removed (or would
// remove, for a dry run).
type RetentionResult struct {
	Connections  int64
	AuthFailures int64
	Events       int64
}

// Total returns the combined row count.
func (r RetentionResult) Total() int64 {
	return r.Connections + r.AuthFailures + r.Events
}

// DeleteOlderThan removes records older than the cutoff. With dryRun set it
// only counts.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time, dryRun bool) (RetentionResult, error) {
	var res RetentionResult
	unix := cutoff.Unix()

	type target struct {
		table  string
		column string
		out    *int64
	}
	targets := []target{
		{"connection_records", "start_time", &res.Connections},
		{"auth_failures", "ts", &res.AuthFailures},
		{"security_events", "ts", &res.Events},
	}

	for _, t := range targets {
		if dryRun {
			err := s.db.QueryRowContext(ctx,
				fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s < ?`, t.table, t.column), unix).Scan(t.out)
			if err != nil {
				return res, fmt.Errorf("count old rows in %s: %w", t.table, err)
			}
			continue
		}
		r, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE %s < ?`, t.table, t.column), unix)
		if err != nil {
			return res, fmt.Errorf("delete old rows in %s: %w", t.table, err)
		}
		if n, err := r.RowsAffected(); err == nil {
			*t.out = n
		}
	}
	return res, nil
}
