package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"

	"vpnsentry/internal/logger"
	"vpnsentry/pkg/models"
)

// Config configures the geolocation client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client resolves IP addresses to coarse locations over HTTP, with an
// in-memory cache keyed by IP for the process lifetime.
type Client struct {
	baseURL string
	client  *http.Client
	cache   *bigcache.BigCache
}

type apiResponse struct {
	Status      string `json:"status"`
	City        string `json:"city"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
}

// NewClient creates a geolocation client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://ip-api.com/json"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	// Locations for an IP do not change at ingestion timescales; a long
	// life window approximates process-lifetime caching.
	cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("create geo cache: %w", err)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		cache:   cache,
	}, nil
}

// Lookup resolves an IP address to a location. Loopback, unspecified and
// unparseable addresses yield (nil, nil), as does a provider miss.
func (c *Client) Lookup(ctx context.Context, ip string) (*models.Location, error) {
	if !Routable(ip) {
		return nil, nil
	}

	if data, err := c.cache.Get(ip); err == nil {
		var loc models.Location
		if err := json.Unmarshal(data, &loc); err == nil {
			return &loc, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+ip, nil)
	if err != nil {
		return nil, fmt.Errorf("create geo request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geo request for %s: %w", ip, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		logger.Warnf("GeoIP rate limit exceeded for %s", ip)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geo request for %s: status %s", ip, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read geo response: %w", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode geo response: %w", err)
	}
	if parsed.Status != "success" {
		return nil, nil
	}

	loc := models.Location{
		City:        parsed.City,
		CountryName: parsed.Country,
		CountryCode: parsed.CountryCode,
	}
	if data, err := json.Marshal(loc); err == nil {
		_ = c.cache.Set(ip, data)
	}
	return &loc, nil
}

// Close releases the cache.
func (c *Client) Close() error {
	return c.cache.Close()
}

// Routable reports whether an address is worth a geolocation lookup.
func Routable(ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	return !parsed.IsLoopback() && !parsed.IsUnspecified()
}
