package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsImported counts newly persisted records per log category.
	RecordsImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnsentry_records_imported_total",
		Help: "Records persisted by the ingestion pipeline.",
	}, []string{"category"})

	// DuplicatesSkipped counts records skipped by deduplication.
	DuplicatesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnsentry_duplicates_skipped_total",
		Help: "Records skipped because their key already existed.",
	}, []string{"category"})

	// CategoryErrors counts per-category ingestion failures.
	CategoryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnsentry_category_errors_total",
		Help: "Ingestion runs that failed for a category.",
	}, []string{"category"})

	// LockContention counts runs skipped because the run lock was held.
	// A steadily increasing series for one job indicates a stuck run
	// holding the lock across consecutive schedule ticks.
	LockContention = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnsentry_lock_contention_total",
		Help: "Scheduled runs skipped because the lock was already held.",
	}, []string{"job"})

	// BruteForceAlerts counts synthetic brute-force security events.
	BruteForceAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vpnsentry_bruteforce_alerts_total",
		Help: "Brute-force security events raised by the detector.",
	})

	// ImpossibleTravelFlags counts connections flagged for impossible travel.
	ImpossibleTravelFlags = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vpnsentry_impossible_travel_total",
		Help: "Connection records flagged as impossible travel.",
	})

	// RiskScoresUpdated counts per-user risk score recomputations.
	RiskScoresUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vpnsentry_risk_scores_updated_total",
		Help: "User risk score recomputations.",
	})
)
