package risk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vpnsentry/internal/logger"
	"vpnsentry/internal/metrics"
	"vpnsentry/internal/store"
	"vpnsentry/pkg/models"
)

// Contribution weights per source.
const (
	weightIntrusionCritical = 25
	weightIntrusionHigh     = 15
	weightAntivirus         = 30
	weightWebFilterPer      = 2
	weightWebFilterCap      = 100
	weightSuspiciousLogin   = 20
	weightImpossibleTravel  = 40
	weightAuthFailures      = 15
	authFailureFloor        = 10
)

// Config controls risk scoring.
type Config struct {
	Window time.Duration
}

// Scorer recomputes per-user risk scores from recent activity. Every
// recomputation is from scratch: contribution rows inside the window are
// deleted and replaced, so repeated runs over unchanged data are idempotent.
type Scorer struct {
	store *store.Store
	cfg   Config
}

// NewScorer creates a scorer.
func NewScorer(st *store.Store, cfg Config) *Scorer {
	if cfg.Window <= 0 {
		cfg.Window = 7 * 24 * time.Hour
	}
	return &Scorer{store: st, cfg: cfg}
}

// Recalculate rebuilds one user's score and contribution rows.
func (s *Scorer) Recalculate(ctx context.Context, username string) (*models.UserRiskScore, error) {
	now := time.Now().UTC()
	windowStart := now.Add(-s.cfg.Window)

	total := 0
	var contributions []models.RiskEvent
	add := func(source, eventID string, weight int, desc string, ts time.Time) {
		total += weight
		contributions = append(contributions, models.RiskEvent{
			Username:    username,
			Source:      source,
			EventID:     eventID,
			WeightAdded: weight,
			Description: desc,
			Timestamp:   ts,
		})
	}

	intrusions, err := s.store.ListSecurityEventsSince(ctx, username, models.CategoryIntrusion, windowStart)
	if err != nil {
		return nil, err
	}
	for _, ev := range intrusions {
		weight := 0
		switch ev.Severity {
		case models.SeverityCritical:
			weight = weightIntrusionCritical
		case models.SeverityHigh:
			weight = weightIntrusionHigh
		}
		if weight > 0 {
			add("intrusion", ev.EventID, weight,
				fmt.Sprintf("Intrusion: %s (%s)", ev.AttackName, ev.Severity), ev.Timestamp)
		}
	}

	infections, err := s.store.ListSecurityEventsSince(ctx, username, models.CategoryAntivirus, windowStart)
	if err != nil {
		return nil, err
	}
	for _, ev := range infections {
		add("antivirus", ev.EventID, weightAntivirus,
			fmt.Sprintf("Antivirus: %s detected in %s", ev.VirusName, ev.FileName), ev.Timestamp)
	}

	blocked, topCategories, err := s.store.CountWebFilterBlocked(ctx, username, windowStart, 3)
	if err != nil {
		return nil, err
	}
	if blocked > 0 {
		weight := blocked * weightWebFilterPer
		if weight > weightWebFilterCap {
			weight = weightWebFilterCap
		}
		add("webfilter", "", weight,
			fmt.Sprintf("Web filter: %d blocked requests (capped at %d pts). Top: %s",
				blocked, weightWebFilterCap, formatCategories(topCategories)), now)
	}

	logins, err := s.store.ListConnectionsSince(ctx, username, windowStart)
	if err != nil {
		return nil, err
	}
	for _, login := range logins {
		if login.IsSuspicious {
			add("vpn", login.SessionID, weightSuspiciousLogin,
				fmt.Sprintf("VPN: login from untrusted country (%s)", login.CountryName), login.StartTime)
		}
		if login.ImpossibleTravel {
			add("vpn", login.SessionID, weightImpossibleTravel,
				"VPN: impossible travel between consecutive logins", login.StartTime)
		}
	}

	failures, err := s.store.CountUserAuthFailures(ctx, username, windowStart)
	if err != nil {
		return nil, err
	}
	if failures >= authFailureFloor {
		add("vpn", "", weightAuthFailures,
			fmt.Sprintf("VPN: %d login failures in window", failures), now)
	}

	previous, err := s.store.GetRiskScore(ctx, username)
	if err != nil {
		return nil, err
	}
	oldScore := 0
	if previous != nil {
		oldScore = previous.CurrentScore
	}

	score := &models.UserRiskScore{
		Username:       username,
		CurrentScore:   total,
		RiskLevel:      models.RiskLevelFor(total),
		Trend:          trendFor(total, oldScore),
		LastCalculated: now,
	}

	if err := s.store.ReplaceRiskScore(ctx, score, windowStart, contributions); err != nil {
		return nil, fmt.Errorf("store risk score for %s: %w", username, err)
	}

	metrics.RiskScoresUpdated.Inc()
	return score, nil
}

// RecalculateAll rebuilds scores for every user active in the window and
// returns the number of users updated.
func (s *Scorer) RecalculateAll(ctx context.Context) (int, error) {
	usernames, err := s.store.ActiveUsernames(ctx, time.Now().UTC().Add(-s.cfg.Window))
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, username := range usernames {
		if _, err := s.Recalculate(ctx, username); err != nil {
			logger.Errorf("Failed to recalculate risk score for %s: %v", username, err)
			continue
		}
		updated++
	}
	return updated, nil
}

func trendFor(current, previous int) string {
	switch {
	case current > previous:
		return models.TrendUp
	case current < previous:
		return models.TrendDown
	default:
		return models.TrendStable
	}
}

func formatCategories(top []store.CategoryCount) string {
	if len(top) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(top))
	for _, cc := range top {
		name := cc.Category
		if name == "" {
			name = "uncategorized"
		}
		parts = append(parts, fmt.Sprintf("%s (%d)", name, cc.Count))
	}
	return strings.Join(parts, ", ")
}
