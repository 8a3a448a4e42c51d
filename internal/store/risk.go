package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vpnsentry/pkg/models"
)

// GetRiskScore returns the stored score for a username, or nil.
func (s *Store) GetRiskScore(ctx context.Context, username string) (*models.UserRiskScore, error) {
	var score models.UserRiskScore
	var last int64
	err := s.db.QueryRowContext(ctx, `SELECT username, current_score, risk_level, trend, last_calculated
		FROM user_risk_scores WHERE username = ?`, username).
		Scan(&score.Username, &score.CurrentScore, &score.RiskLevel, &score.Trend, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get risk score for %s: %w", username, err)
	}
	score.LastCalculated = time.Unix(last, 0).UTC()
	return &score, nil
}

// ReplaceRiskScore stores a recomputed score and replaces the contributing
// risk events inside the window, all in one transaction so the total and its
// contributions never diverge.
func (s *Store) ReplaceRiskScore(ctx context.Context, score *models.UserRiskScore, windowStart time.Time, events []models.RiskEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin risk tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO user_risk_scores
		(username, current_score, risk_level, trend, last_calculated)
		VALUES (?,?,?,?,?)
		ON CONFLICT(username) DO UPDATE SET
			current_score = excluded.current_score,
			risk_level = excluded.risk_level,
			trend = excluded.trend,
			last_calculated = excluded.last_calculated`,
		score.Username, score.CurrentScore, score.RiskLevel, score.Trend,
		score.LastCalculated.Unix())
	if err != nil {
		return fmt.Errorf("upsert risk score: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM risk_events
		WHERE username = ? AND ts >= ?`,
		score.Username, windowStart.Unix())
	if err != nil {
		return fmt.Errorf("purge risk events: %w", err)
	}

	for _, ev := range events {
		_, err = tx.ExecContext(ctx, `INSERT INTO risk_events
			(username, source, event_id, weight_added, description, ts)
			VALUES (?,?,?,?,?,?)`,
			score.Username, ev.Source, ev.EventID, ev.WeightAdded,
			ev.Description, ev.Timestamp.Unix())
		if err != nil {
			return fmt.Errorf("insert risk event: %w", err)
		}
	}

	return tx.Commit()
}

// ListRiskEvents returns the stored contributions for a username, oldest
// first.
func (s *Store) ListRiskEvents(ctx context.Context, username string) ([]models.RiskEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, source, event_id, weight_added, description, ts
		FROM risk_events WHERE username = ? ORDER BY ts ASC`, username)
	if err != nil {
		return nil, fmt.Errorf("list risk events for %s: %w", username, err)
	}
	defer rows.Close()

	var out []models.RiskEvent
	for rows.Next() {
		var ev models.RiskEvent
		var ts int64
		if err := rows.Scan(&ev.ID, &ev.Username, &ev.Source, &ev.EventID,
			&ev.WeightAdded, &ev.Description, &ts); err != nil {
			return nil, fmt.Errorf("scan risk event: %w", err)
		}
		ev.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}
