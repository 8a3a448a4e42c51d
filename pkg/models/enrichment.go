package models

// DirectoryInfo is the directory resolution for a login identifier.
type DirectoryInfo struct {
	Email       string `json:"email,omitempty"`
	Department  string `json:"department,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Title       string `json:"title,omitempty"`
}

// Location is the geolocation for an IP address.
type Location struct {
	City        string `json:"city,omitempty"`
	CountryName string `json:"country_name,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
}
