package directory

import "strings"

// CleanUsername strips a NetBIOS-style domain prefix (DOMAIN\user) from a
// login identifier before directory lookup.
func CleanUsername(username string) string {
	if idx := strings.LastIndex(username, `\`); idx >= 0 {
		return username[idx+1:]
	}
	return username
}

// IsPlaceholder reports whether a username is an appliance placeholder
// rather than a real login identifier.
func IsPlaceholder(username string) bool {
	switch strings.TrimSpace(username) {
	case "", "unknown", "N/A":
		return true
	}
	return false
}
