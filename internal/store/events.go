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

// InsertSecurityEvent persists a security event. Returns ErrDuplicate when
// the event id is already stored.
func (s *Store) InsertSecurityEvent(ctx context.Context, ev *models.SecurityEvent) error {
	raw, err := rawJSON(ev.Raw)
	if err != nil {
		return err
	}
	tags := "[]"
	if len(ev.RuleTags) > 0 {
		data, err := json.Marshal(ev.RuleTags)
		if err != nil {
			return fmt.Errorf("marshal rule tags: %w", err)
		}
		tags = string(data)
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO security_events
		(event_id, category, severity, ts, event_date, src_ip, dst_ip,
		 src_port, dst_port, src_country, dst_country, username, email,
		 department, title, display_name, attack_name, attack_id, cve,
		 virus_name, file_name, file_hash, url, web_category, action,
		 details, rule_tags, raw, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ev.EventID, ev.Category, ev.Severity, ev.Timestamp.Unix(), ev.Date,
		ev.SourceIP, ev.DestinationIP, ev.SourcePort, ev.DestinationPort,
		ev.SourceCountry, ev.DestinationCountry, ev.Username, ev.Email,
		ev.Department, ev.Title, ev.DisplayName,
		ev.AttackName, ev.AttackID, ev.CVE,
		ev.VirusName, ev.FileName, ev.FileHash,
		ev.URL, ev.WebCategory, ev.Action, ev.Details, tags, raw,
		time.Now().Unix())
	if err != nil {
		return asStoreErr(err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// SecurityEventExists reports whether an event id is already stored.
func (s *Store) SecurityEventExists(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM security_events WHERE event_id = ?`, eventID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check event %s: %w", eventID, err)
	}
	return true, nil
}

// HasBruteForceEvent reports whether a brute-force event already exists for
// the (user, source ip) pair within the window. This is the detector's
// suppression check.
func (s *Store) HasBruteForceEvent(ctx context.Context, username, sourceIP string, since time.Time) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM security_events
		WHERE category = ? AND username = ? AND src_ip = ? AND ts >= ?
		LIMIT 1`,
		models.CategoryBruteForce, username, sourceIP, since.Unix()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check brute-force event: %w", err)
	}
	return true, nil
}

// CountSecurityEvents returns the number of stored events in a category.
func (s *Store) CountSecurityEvents(ctx context.Context, category string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_events WHERE category = ?`, category).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s events: %w", category, err)
	}
	return n, nil
}

// ListSecurityEventsSince returns a user's events of one category in the
// window, oldest first.
func (s *Store) ListSecurityEventsSince(ctx context.Context, username, category string, since time.Time) ([]*models.SecurityEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, event_id, category, severity, ts, event_date, src_ip, dst_ip,
		src_port, dst_port, src_country, dst_country, username, email,
		department, title, display_name, attack_name, attack_id, cve,
		virus_name, file_name, file_hash, url, web_category, action,
		details, rule_tags, raw, created_at
		FROM security_events
		WHERE username = ? AND category = ? AND ts >= ?
		ORDER BY ts ASC`,
		username, category, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("list %s events for %s: %w", category, username, err)
	}
	defer rows.Close()

	var out []*models.SecurityEvent
	for rows.Next() {
		var ev models.SecurityEvent
		var ts, created int64
		var tags, raw string
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.Category, &ev.Severity,
			&ts, &ev.Date, &ev.SourceIP, &ev.DestinationIP,
			&ev.SourcePort, &ev.DestinationPort,
			&ev.SourceCountry, &ev.DestinationCountry,
			&ev.Username, &ev.Email, &ev.Department, &ev.Title, &ev.DisplayName,
			&ev.AttackName, &ev.AttackID, &ev.CVE,
			&ev.VirusName, &ev.FileName, &ev.FileHash,
			&ev.URL, &ev.WebCategory, &ev.Action, &ev.Details,
			&tags, &raw, &created); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		ev.Timestamp = time.Unix(ts, 0).UTC()
		ev.CreatedAt = time.Unix(created, 0).UTC()
		if tags != "" && tags != "[]" {
			_ = json.Unmarshal([]byte(tags), &ev.RuleTags)
		}
		if raw != "" && raw != "{}" {
			_ = json.Unmarshal([]byte(raw), &ev.Raw)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// CategoryCount is one web category with its blocked-event count.
type CategoryCount struct {
	Category string
	Count    int
}

// CountWebFilterBlocked counts a user's blocked web-filter events in the
// window and returns the most-blocked categories.
func (s *Store) CountWebFilterBlocked(ctx context.Context, username string, since time.Time, topN int) (int, []CategoryCount, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM security_events
		WHERE username = ? AND category = ? AND action = 'blocked' AND ts >= ?`,
		username, models.CategoryWebFilter, since.Unix()).Scan(&total)
	if err != nil {
		return 0, nil, fmt.Errorf("count blocked web events: %w", err)
	}
	if total == 0 || topN <= 0 {
		return total, nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT web_category, COUNT(*) AS n
		FROM security_events
		WHERE username = ? AND category = ? AND action = 'blocked' AND ts >= ?
		GROUP BY web_category ORDER BY n DESC LIMIT ?`,
		username, models.CategoryWebFilter, since.Unix(), topN)
	if err != nil {
		return 0, nil, fmt.Errorf("top blocked categories: %w", err)
	}
	defer rows.Close()

	var top []CategoryCount
	for rows.Next() {
		var cc CategoryCount
		if err := rows.Scan(&cc.Category, &cc.Count); err != nil {
			return 0, nil, fmt.Errorf("scan category count: %w", err)
		}
		top = append(top, cc)
	}
	return total, top, rows.Err()
}

// ActiveUsernames returns every distinct non-empty username seen across
// connections, auth failures and security events in the window.
func (s *Store) ActiveUsernames(ctx context.Context, since time.Time) ([]string, error) {
	cutoff := since.Unix()
	rows, err := s.db.QueryContext(ctx, `
		SELECT username FROM connection_records WHERE start_time >= ? AND username != ''
		UNION
		SELECT username FROM auth_failures WHERE ts >= ? AND username != ''
		UNION
		SELECT username FROM security_events WHERE ts >= ? AND username != ''`,
		cutoff, cutoff, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list active usernames: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan username: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
