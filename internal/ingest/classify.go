package ingest

import (
	"strings"
	"time"

	"vpnsentry/pkg/models"
)

// VPN tunnel records are a distinct appliance category from the three
// security-event categories.
const CategoryVPN = "vpn"

// Category is one appliance log category with its search parameters.
type Category struct {
	Name    string
	LogType string
	Filter  string
}

// Categories lists every category the pipeline polls, in run order.
var Categories = []Category{
	{Name: CategoryVPN, LogType: "event",
		Filter: `subtype=="vpn" and (tunneltype=="ssl-tunnel" or tunneltype=="ssl-web")`},
	{Name: models.CategoryIntrusion, LogType: "ips", Filter: `subtype=="ips"`},
	{Name: models.CategoryAntivirus, LogType: "virus", Filter: `subtype=="virus"`},
	{Name: models.CategoryWebFilter, LogType: "webfilter", Filter: `subtype=="webfilter"`},
}

// CategoryByName returns the named category, or nil.
func CategoryByName(name string) *Category {
	for i := range Categories {
		if Categories[i].Name == name {
			return &Categories[i]
		}
	}
	return nil
}

// VPN record outcomes, classified by action code.
type vpnOutcome int

const (
	outcomeSkip vpnOutcome = iota
	outcomeConnection
	outcomeAuthFailure
)

var connectionActions = map[string]bool{
	"tunnel-up":    true,
	"tunnel-down":  true,
	"tunnel-stats": true,
}

var authFailureActions = map[string]bool{
	"negotiate-error":  true,
	"auth-failure":     true,
	"ssl-login-fail":   true,
	"ipsec-login-fail": true,
}

func classifyAction(action string) vpnOutcome {
	switch {
	case connectionActions[action]:
		return outcomeConnection
	case authFailureActions[action]:
		return outcomeAuthFailure
	default:
		return outcomeSkip
	}
}

func statusForAction(action string) string {
	if action == "tunnel-down" {
		return models.StatusClosed
	}
	return models.StatusActive
}

// sessionKey derives the deduplication key for a VPN record: the appliance's
// session or tunnel identifier when present, otherwise a hash of the full
// record content. Composite date+time+user keys collide for distinct
// same-second sessions, so the content hash is the fallback.
func sessionKey(raw models.RawRecord) string {
	for _, field := range []string{"sessionid", "tunnelid"} {
		if v := raw.String(field); v != "" && v != "0" {
			return v
		}
	}
	return raw.ContentHash()
}

// usernameFrom extracts the login identifier, falling back to the xauth
// user when the primary field holds the appliance's N/A placeholder.
func usernameFrom(raw models.RawRecord) string {
	username := raw.String("user")
	if username == "" {
		username = "unknown"
	}
	if username == "N/A" {
		if xauth := raw.String("xauthuser"); xauth != "" {
			username = xauth
		}
	}
	return username
}

// sourceIPFrom prefers the remote tunnel endpoint over the generic source
// address field.
func sourceIPFrom(raw models.RawRecord) string {
	ip := raw.String("remip")
	if ip == "" || ip == "0.0.0.0" {
		ip = raw.String("srcip")
	}
	if ip == "" {
		ip = "0.0.0.0"
	}
	return ip
}

const recordTimeLayout = "2006-01-02 15:04:05"

// recordTime parses the record's date and time fields and subtracts the
// configured appliance clock offset. Unparseable timestamps fall back to now.
func recordTime(raw models.RawRecord, offset time.Duration, now time.Time) time.Time {
	ts, err := time.ParseInLocation(recordTimeLayout,
		raw.String("date")+" "+raw.String("time"), time.UTC)
	if err != nil {
		return now
	}
	return ts.Add(-offset)
}

// severityFrom maps the appliance's syslog-style level to a severity bucket.
func severityFrom(level string) string {
	switch strings.ToLower(level) {
	case "critical", "alert", "emergency":
		return models.SeverityCritical
	case "error":
		return models.SeverityHigh
	case "warning":
		return models.SeverityMedium
	case "notice":
		return models.SeverityLow
	default:
		return models.SeverityInfo
	}
}

// severityRank orders severities for comparisons; higher is worse.
func severityRank(severity string) int {
	switch severity {
	case models.SeverityCritical:
		return 4
	case models.SeverityHigh:
		return 3
	case models.SeverityMedium:
		return 2
	case models.SeverityLow:
		return 1
	default:
		return 0
	}
}
