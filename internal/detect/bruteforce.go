package detect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"vpnsentry/internal/logger"
	"vpnsentry/internal/metrics"
	"vpnsentry/internal/store"
	"vpnsentry/pkg/models"
)

// BruteForceConfig controls the failed-login detector.
type BruteForceConfig struct {
	Window    time.Duration
	Threshold int
}

// BruteForceDetector raises a critical security event when a (user, source
// ip) pair accumulates enough authentication failures inside a sliding
// window. The stored failure history is the only state; an existing event
// inside the window suppresses repeat alerts for the same episode.
type BruteForceDetector struct {
	store *store.Store
	cfg   BruteForceConfig
}

// NewBruteForceDetector creates a detector.
func NewBruteForceDetector(st *store.Store, cfg BruteForceConfig) *BruteForceDetector {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	return &BruteForceDetector{store: st, cfg: cfg}
}

// Evaluate runs the detector for a just-inserted failure. It returns the
// created security event, or nil when the threshold is not met or an alert
// for this episode already exists.
func (d *BruteForceDetector) Evaluate(ctx context.Context, failure *models.AuthFailureRecord) (*models.SecurityEvent, error) {
	since := failure.Timestamp.Add(-d.cfg.Window)

	count, err := d.store.CountAuthFailures(ctx, failure.Username, failure.SourceIP, since)
	if err != nil {
		return nil, fmt.Errorf("brute-force window count: %w", err)
	}
	if count < d.cfg.Threshold {
		return nil, nil
	}

	exists, err := d.store.HasBruteForceEvent(ctx, failure.Username, failure.SourceIP, since)
	if err != nil {
		return nil, fmt.Errorf("brute-force suppression check: %w", err)
	}
	if exists {
		return nil, nil
	}

	event := &models.SecurityEvent{
		EventID:       bruteForceEventID(failure.Username, failure.SourceIP, failure.Timestamp),
		Category:      models.CategoryBruteForce,
		Severity:      models.SeverityCritical,
		Timestamp:     failure.Timestamp,
		Date:          failure.Timestamp.Format("2006-01-02"),
		SourceIP:      failure.SourceIP,
		SourceCountry: failure.CountryCode,
		Username:      failure.Username,
		Action:        "block",
		AttackName:    "Brute Force Attack Detected",
		Details: fmt.Sprintf("%d login failures within %s. Last reason: %s",
			count, d.cfg.Window, failure.Reason),
		Raw: failure.Raw,
	}

	if err := d.store.InsertSecurityEvent(ctx, event); err != nil {
		if err == store.ErrDuplicate {
			return nil, nil
		}
		return nil, fmt.Errorf("persist brute-force event: %w", err)
	}

	metrics.BruteForceAlerts.Inc()
	logger.Warnf("Brute-force detected: user=%s ip=%s failures=%d",
		failure.Username, failure.SourceIP, count)
	return event, nil
}

func bruteForceEventID(username, sourceIP string, ts time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("bruteforce|%s|%s|%d", username, sourceIP, ts.Unix())))
	return hex.EncodeToString(sum[:])
}
