package models

import "time"

// Connection lifecycle states.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// ConnectionRecord is one observed VPN session.
type ConnectionRecord struct {
	ID              int64     `json:"id,omitempty"`
	SessionID       string    `json:"session_id"`
	Username        string    `json:"username"`
	SourceIP        string    `json:"source_ip"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds int64     `json:"duration_seconds"`
	BytesIn         int64     `json:"bytes_in"`
	BytesOut        int64     `json:"bytes_out"`
	Status          string    `json:"status"`

	// Directory enrichment. Empty when the lookup was skipped or failed.
	Department  string `json:"department,omitempty"`
	Email       string `json:"email,omitempty"`
	Title       string `json:"title,omitempty"`
	DisplayName string `json:"display_name,omitempty"`

	// Geo enrichment.
	City        string `json:"city,omitempty"`
	CountryName string `json:"country_name,omitempty"`
	CountryCode string `json:"country_code,omitempty"`

	// Derived flags, set once at creation time.
	IsSuspicious     bool     `json:"is_suspicious"`
	ImpossibleTravel bool     `json:"impossible_travel"`
	TravelSpeed      *float64 `json:"travel_speed,omitempty"`

	Raw       RawRecord `json:"raw,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// AuthFailureRecord is one failed VPN authentication attempt.
type AuthFailureRecord struct {
	ID          int64     `json:"id,omitempty"`
	DedupKey    string    `json:"dedup_key"`
	Username    string    `json:"username"`
	SourceIP    string    `json:"source_ip"`
	Timestamp   time.Time `json:"timestamp"`
	Reason      string    `json:"reason"`
	City        string    `json:"city,omitempty"`
	CountryCode string    `json:"country_code,omitempty"`
	Raw         RawRecord `json:"raw,omitempty"`
}
