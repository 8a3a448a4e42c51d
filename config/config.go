package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	VPNSentry VPNSentryConfig `yaml:"vpnsentry"`
}

// VPNSentryConfig is the project configuration.
type VPNSentryConfig struct {
	Appliance ApplianceConfig `yaml:"appliance"`
	Directory DirectoryConfig `yaml:"directory"`
	GeoIP     GeoIPConfig     `yaml:"geoip"`
	Lock      LockConfig      `yaml:"lock"`
	Storage   StorageConfig   `yaml:"storage"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Detection DetectionConfig `yaml:"detection"`
	Risk      RiskConfig      `yaml:"risk"`
	Rules     RulesConfig     `yaml:"rules"`
	Retention RetentionConfig `yaml:"retention"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ApplianceConfig controls the log appliance connection.
type ApplianceConfig struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	ADOM      string        `yaml:"adom"`
	APIToken  string        `yaml:"api_token"`
	VerifySSL bool          `yaml:"verify_ssl"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DirectoryConfig controls the directory service connection.
type DirectoryConfig struct {
	Server       string        `yaml:"server"`
	Port         int           `yaml:"port"`
	UseSSL       bool          `yaml:"use_ssl"`
	BaseDN       string        `yaml:"base_dn"`
	BindUser     string        `yaml:"bind_user"`
	BindPassword string        `yaml:"bind_password"`
	Timeout      time.Duration `yaml:"timeout"`
}

// GeoIPConfig controls IP geolocation lookups.
type GeoIPConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LockConfig controls the shared run lock.
type LockConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// StorageConfig controls local persistence.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// IngestConfig controls the ingestion pipeline.
type IngestConfig struct {
	Interval        time.Duration `yaml:"interval"`
	Lookback        time.Duration `yaml:"lookback"`
	InitialLookback time.Duration `yaml:"initial_lookback"`
	FetchLimit      int           `yaml:"fetch_limit"`
	SettleDelay     time.Duration `yaml:"settle_delay"`
	MaxWait         time.Duration `yaml:"max_wait"`
	// ClockOffset is subtracted from appliance timestamps to compensate a
	// known fixed skew of the appliance clock. Deployment-specific.
	ClockOffset time.Duration `yaml:"clock_offset"`
}

// DetectionConfig controls the anomaly detectors.
type DetectionConfig struct {
	BruteForceWindow    time.Duration `yaml:"bruteforce_window"`
	BruteForceThreshold int           `yaml:"bruteforce_threshold"`
	TravelMinGap        time.Duration `yaml:"travel_min_gap"`
	TrustedCountries    []string      `yaml:"trusted_countries"`
}

// RiskConfig controls risk score aggregation.
type RiskConfig struct {
	Interval time.Duration `yaml:"interval"`
	Window   time.Duration `yaml:"window"`
}

// RulesConfig controls optional Sigma rule tagging of security events.
type RulesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RetentionConfig controls time-based record deletion.
type RetentionConfig struct {
	MaxAge   time.Duration `yaml:"max_age"`
	Interval time.Duration `yaml:"interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
