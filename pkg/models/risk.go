package models

import "time"

// Risk levels ordered by severity.
const (
	RiskNone     = "None"
	RiskLow      = "Low"
	RiskMedium   = "Medium"
	RiskHigh     = "High"
	RiskCritical = "Critical"
)

// Trend directions relative to the previously stored score.
const (
	TrendUp     = "Up"
	TrendDown   = "Down"
	TrendStable = "Stable"
)

// UserRiskScore is the current weighted risk score for one username.
type UserRiskScore struct {
	Username       string    `json:"username"`
	CurrentScore   int       `json:"current_score"`
	RiskLevel      string    `json:"risk_level"`
	Trend          string    `json:"trend"`
	LastCalculated time.Time `json:"last_calculated"`
}

// RiskEvent is one contribution to a user's current score. The set of rows
// inside the scoring window is fully replaced on each recomputation.
type RiskEvent struct {
	ID          int64     `json:"id,omitempty"`
	Username    string    `json:"username"`
	Source      string    `json:"source"`
	EventID     string    `json:"event_id,omitempty"`
	WeightAdded int       `json:"weight_added"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// RiskLevelFor maps a total score to its level band.
func RiskLevelFor(score int) string {
	switch {
	case score == 0:
		return RiskNone
	case score < 30:
		return RiskLow
	case score < 70:
		return RiskMedium
	case score < 150:
		return RiskHigh
	default:
		return RiskCritical
	}
}
