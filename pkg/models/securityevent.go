package models

import "time"

// Security event categories.
const (
	CategoryIntrusion  = "intrusion"
	CategoryAntivirus  = "antivirus"
	CategoryWebFilter  = "webfilter"
	CategoryBruteForce = "bruteforce"
)

// Severity levels, highest first.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// SecurityEvent is one ingested security record. EventID is a content hash of
// the raw appliance record (or a synthetic id for detector-generated events)
// and uniquely identifies it across overlapping poll windows.
type SecurityEvent struct {
	ID        int64     `json:"id,omitempty"`
	EventID   string    `json:"event_id"`
	Category  string    `json:"category"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	Date      string    `json:"date"`

	SourceIP           string `json:"src_ip"`
	DestinationIP      string `json:"dst_ip,omitempty"`
	SourcePort         int    `json:"src_port,omitempty"`
	DestinationPort    int    `json:"dst_port,omitempty"`
	SourceCountry      string `json:"src_country,omitempty"`
	DestinationCountry string `json:"dst_country,omitempty"`

	Username    string `json:"username,omitempty"`
	Email       string `json:"email,omitempty"`
	Department  string `json:"department,omitempty"`
	Title       string `json:"title,omitempty"`
	DisplayName string `json:"display_name,omitempty"`

	// Intrusion fields.
	AttackName string `json:"attack_name,omitempty"`
	AttackID   string `json:"attack_id,omitempty"`
	CVE        string `json:"cve,omitempty"`

	// Antivirus fields.
	VirusName string `json:"virus_name,omitempty"`
	FileName  string `json:"file_name,omitempty"`
	FileHash  string `json:"file_hash,omitempty"`

	// Web-filter fields.
	URL         string `json:"url,omitempty"`
	WebCategory string `json:"web_category,omitempty"`

	Action  string `json:"action,omitempty"`
	Details string `json:"details,omitempty"`

	// Titles of detection rules that matched the raw record.
	RuleTags []string `json:"rule_tags,omitempty"`

	Raw       RawRecord `json:"raw,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
