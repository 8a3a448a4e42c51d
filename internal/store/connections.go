package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vpnsentry/pkg/models"
)

const connectionColumns = `id, session_id, username, source_ip, start_time, end_time,
	duration_seconds, bytes_in, bytes_out, status, department, email, title,
	display_name, city, country_name, country_code, is_suspicious,
	impossible_travel, travel_speed, raw, created_at`

// InsertConnection persists a connection record. Returns ErrDuplicate when
// the session id is already stored.
func (s *Store) InsertConnection(ctx context.Context, rec *models.ConnectionRecord) error {
	raw, err := rawJSON(rec.Raw)
	if err != nil {
		return err
	}

	var speed interface{}
	if rec.TravelSpeed != nil {
		speed = *rec.TravelSpeed
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO connection_records
		(session_id, username, source_ip, start_time, end_time, duration_seconds,
		 bytes_in, bytes_out, status, department, email, title, display_name,
		 city, country_name, country_code, is_suspicious, impossible_travel,
		 travel_speed, raw, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.SessionID, rec.Username, rec.SourceIP,
		rec.StartTime.Unix(), rec.EndTime.Unix(), rec.DurationSeconds,
		rec.BytesIn, rec.BytesOut, rec.Status,
		rec.Department, rec.Email, rec.Title, rec.DisplayName,
		rec.City, rec.CountryName, rec.CountryCode,
		boolInt(rec.IsSuspicious), boolInt(rec.ImpossibleTravel),
		speed, raw, time.Now().Unix(),
	)
	if err != nil {
		return asStoreErr(err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// ConnectionExists reports whether a session id is already stored.
func (s *Store) ConnectionExists(ctx context.Context, sessionID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM connection_records WHERE session_id = ?`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check session %s: %w", sessionID, err)
	}
	return true, nil
}

// CountConnections returns the total number of stored connection records.
func (s *Store) CountConnections(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM connection_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count connections: %w", err)
	}
	return n, nil
}

// LastGeolocatedConnection returns the user's most recent connection before
// the given time that carries a country code, or nil.
func (s *Store) LastGeolocatedConnection(ctx context.Context, username string, before time.Time) (*models.ConnectionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+connectionColumns+`
		FROM connection_records
		WHERE username = ? AND country_code != '' AND start_time < ?
		ORDER BY start_time DESC LIMIT 1`,
		username, before.Unix())

	rec, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last geolocated connection for %s: %w", username, err)
	}
	return rec, nil
}

// ListConnectionsSince returns a user's connections with start_time at or
// after the cutoff, oldest first.
func (s *Store) ListConnectionsSince(ctx context.Context, username string, since time.Time) ([]*models.ConnectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+connectionColumns+`
		FROM connection_records
		WHERE username = ? AND start_time >= ?
		ORDER BY start_time ASC`,
		username, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("list connections for %s: %w", username, err)
	}
	defer rows.Close()

	var out []*models.ConnectionRecord
	for rows.Next() {
		rec, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConnection(row rowScanner) (*models.ConnectionRecord, error) {
	var rec models.ConnectionRecord
	var start, end, created int64
	var suspicious, travel int
	var speed sql.NullFloat64
	var raw string

	err := row.Scan(&rec.ID, &rec.SessionID, &rec.Username, &rec.SourceIP,
		&start, &end, &rec.DurationSeconds, &rec.BytesIn, &rec.BytesOut,
		&rec.Status, &rec.Department, &rec.Email, &rec.Title, &rec.DisplayName,
		&rec.City, &rec.CountryName, &rec.CountryCode,
		&suspicious, &travel, &speed, &raw, &created)
	if err != nil {
		return nil, err
	}

	rec.StartTime = time.Unix(start, 0).UTC()
	rec.EndTime = time.Unix(end, 0).UTC()
	rec.CreatedAt = time.Unix(created, 0).UTC()
	rec.IsSuspicious = suspicious != 0
	rec.ImpossibleTravel = travel != 0
	if speed.Valid {
		v := speed.Float64
		rec.TravelSpeed = &v
	}
	if raw != "" && raw != "{}" {
		_ = json.Unmarshal([]byte(raw), &rec.Raw)
	}
	return &rec, nil
}

func rawJSON(raw models.RawRecord) (string, error) {
	if raw == nil {
		return "{}", nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("marshal raw payload: %w", err)
	}
	return string(data), nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
