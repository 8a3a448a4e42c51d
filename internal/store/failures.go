package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"vpnsentry/pkg/models"
)

// InsertAuthFailure persists a failed authentication attempt. Returns
// ErrDuplicate when a failure with the same dedup key already exists.
func (s *Store) InsertAuthFailure(ctx context.Context, rec *models.AuthFailureRecord) error {
	raw, err := rawJSON(rec.Raw)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO auth_failures
		(dedup_key, username, source_ip, ts, reason, city, country_code, raw)
		VALUES (?,?,?,?,?,?,?,?)`,
		rec.DedupKey, rec.Username, rec.SourceIP, rec.Timestamp.Unix(),
		rec.Reason, rec.City, rec.CountryCode, raw)
	if err != nil {
		return asStoreErr(err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// AuthFailureExists reports whether a failure with the dedup key is stored.
func (s *Store) AuthFailureExists(ctx context.Context, dedupKey string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM auth_failures WHERE dedup_key = ? LIMIT 1`, dedupKey).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("auth failure exists: %w", err)
	}
	return true, nil
}

// CountAuthFailures counts failures for a (user, source ip) pair with a
// timestamp at or after the cutoff.
func (s *Store) CountAuthFailures(ctx context.Context, username, sourceIP string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM auth_failures
		WHERE username = ? AND source_ip = ? AND ts >= ?`,
		username, sourceIP, since.Unix()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count auth failures: %w", err)
	}
	return n, nil
}

// CountUserAuthFailures counts all of a user's failures in the window,
// regardless of source ip.
func (s *Store) CountUserAuthFailures(ctx context.Context, username string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM auth_failures
		WHERE username = ? AND ts >= ?`,
		username, since.Unix()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count user auth failures: %w", err)
	}
	return n, nil
}

// LastFailureReason returns the reason of the most recent failure for a
// (user, source ip) pair, or "".
func (s *Store) LastFailureReason(ctx context.Context, username, sourceIP string) (string, error) {
	var reason string
	err := s.db.QueryRowContext(ctx, `SELECT reason FROM auth_failures
		WHERE username = ? AND source_ip = ?
		ORDER BY ts DESC LIMIT 1`,
		username, sourceIP).Scan(&reason)
	if err != nil {
		return "", nil
	}
	return reason, nil
}

// ListAuthFailuresSince returns a user's failures in the window, oldest first.
func (s *Store) ListAuthFailuresSince(ctx context.Context, username string, since time.Time) ([]*models.AuthFailureRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, source_ip, ts, reason, city, country_code, raw
		FROM auth_failures
		WHERE username = ? AND ts >= ?
		ORDER BY ts ASC`,
		username, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("list auth failures for %s: %w", username, err)
	}
	defer rows.Close()

	var out []*models.AuthFailureRecord
	for rows.Next() {
		var rec models.AuthFailureRecord
		var ts int64
		var raw string
		if err := rows.Scan(&rec.ID, &rec.Username, &rec.SourceIP, &ts,
			&rec.Reason, &rec.City, &rec.CountryCode, &raw); err != nil {
			return nil, fmt.Errorf("scan auth failure: %w", err)
		}
		rec.Timestamp = time.Unix(ts, 0).UTC()
		if raw != "" && raw != "{}" {
			_ = json.Unmarshal([]byte(raw), &rec.Raw)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
