package detect

import (
	"context"
	"fmt"
	"time"

	"vpnsentry/internal/logger"
	"vpnsentry/internal/metrics"
	"vpnsentry/internal/store"
	"vpnsentry/pkg/models"
)

// TravelConfig controls the impossible-travel detector.
type TravelConfig struct {
	// MinGap is the shortest elapsed time in which a cross-country change
	// is considered physically plausible.
	MinGap time.Duration
}

// No coordinates are persisted, so a real km/h figure cannot be computed;
// flagged hops record this sentinel speed instead.
const instantaneousSpeed = 9999.0

// TravelDetector flags logins whose country changed faster than a person
// could plausibly travel. Same-country changes are never flagged, which
// trades sensitivity for immunity to city-level geolocation noise.
type TravelDetector struct {
	store *store.Store
	cfg   TravelConfig
}

// NewTravelDetector creates a detector.
func NewTravelDetector(st *store.Store, cfg TravelConfig) *TravelDetector {
	if cfg.MinGap <= 0 {
		cfg.MinGap = 90 * time.Minute
	}
	return &TravelDetector{store: st, cfg: cfg}
}

// Evaluate inspects a connection record before it is persisted and sets its
// impossible-travel flag against the user's most recent geolocated login.
func (d *TravelDetector) Evaluate(ctx context.Context, rec *models.ConnectionRecord) error {
	if rec.CountryCode == "" {
		return nil
	}

	prev, err := d.store.LastGeolocatedConnection(ctx, rec.Username, rec.StartTime)
	if err != nil {
		return fmt.Errorf("previous geolocated login: %w", err)
	}
	if prev == nil {
		return nil
	}
	if prev.CountryCode == rec.CountryCode {
		return nil
	}

	elapsed := rec.StartTime.Sub(prev.StartTime)
	if elapsed >= d.cfg.MinGap {
		return nil
	}

	speed := instantaneousSpeed
	rec.ImpossibleTravel = true
	rec.TravelSpeed = &speed

	metrics.ImpossibleTravelFlags.Inc()
	logger.Warnf("Impossible travel: user=%s %s->%s in %s",
		rec.Username, prev.CountryCode, rec.CountryCode, elapsed)
	return nil
}
