package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"vpnsentry/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestInsertConnectionDeduplicatesBySessionID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	rec := &models.ConnectionRecord{
		SessionID: "S1",
		Username:  "jdoe",
		SourceIP:  "203.0.113.7",
		StartTime: now,
		EndTime:   now.Add(time.Hour),
		Status:    models.StatusActive,
		Raw:       models.RawRecord{"action": "tunnel-up"},
	}
	if err := st.InsertConnection(ctx, rec); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if rec.ID == 0 {
		t.Fatalf("expected assigned id")
	}

	dup := &models.ConnectionRecord{SessionID: "S1", Username: "jdoe", StartTime: now, EndTime: now}
	if err := st.InsertConnection(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	exists, err := st.ConnectionExists(ctx, "S1")
	if err != nil || !exists {
		t.Fatalf("expected S1 to exist, got %v %v", exists, err)
	}
	count, err := st.CountConnections(ctx)
	if err != nil || count != 1 {
		t.Fatalf("expected 1 connection, got %d %v", count, err)
	}
}

func TestLastGeolocatedConnectionSkipsUnlocatedRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 29, 8, 0, 0, 0, time.UTC)

	rows := []*models.ConnectionRecord{
		{SessionID: "a", Username: "jdoe", StartTime: base, EndTime: base, CountryCode: "BR", CountryName: "Brazil"},
		{SessionID: "b", Username: "jdoe", StartTime: base.Add(30 * time.Minute), EndTime: base},
		{SessionID: "c", Username: "other", StartTime: base.Add(40 * time.Minute), EndTime: base, CountryCode: "US"},
	}
	for _, rec := range rows {
		if err := st.InsertConnection(ctx, rec); err != nil {
			t.Fatalf("insert %s: %v", rec.SessionID, err)
		}
	}

	got, err := st.LastGeolocatedConnection(ctx, "jdoe", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("LastGeolocatedConnection: %v", err)
	}
	if got == nil || got.SessionID != "a" {
		t.Fatalf("expected session a, got %+v", got)
	}

	got, err = st.LastGeolocatedConnection(ctx, "jdoe", base)
	if err != nil {
		t.Fatalf("LastGeolocatedConnection before first row: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil before first geolocated row, got %+v", got)
	}
}

func TestAuthFailureDedupAndWindowCounts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rec := &models.AuthFailureRecord{
			DedupKey:  models.RawRecord{"n": i}.ContentHash(),
			Username:  "jdoe",
			SourceIP:  "10.0.0.5",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Reason:    "ssl-login-fail",
		}
		if err := st.InsertAuthFailure(ctx, rec); err != nil {
			t.Fatalf("insert failure %d: %v", i, err)
		}
	}

	dup := &models.AuthFailureRecord{
		DedupKey:  models.RawRecord{"n": 0}.ContentHash(),
		Username:  "jdoe",
		SourceIP:  "10.0.0.5",
		Timestamp: base,
	}
	if err := st.InsertAuthFailure(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	exists, err := st.AuthFailureExists(ctx, dup.DedupKey)
	if err != nil || !exists {
		t.Fatalf("expected dedup key to exist, got %v %v", exists, err)
	}

	count, err := st.CountAuthFailures(ctx, "jdoe", "10.0.0.5", base.Add(time.Minute))
	if err != nil {
		t.Fatalf("CountAuthFailures: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 failures in window, got %d", count)
	}

	reason, err := st.LastFailureReason(ctx, "jdoe", "10.0.0.5")
	if err != nil || reason != "ssl-login-fail" {
		t.Fatalf("unexpected last reason %q %v", reason, err)
	}
}

func TestSecurityEventDedupAndBruteForceLookup(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 29, 9, 30, 0, 0, time.UTC)

	ev := &models.SecurityEvent{
		EventID:   "abc123",
		Category:  models.CategoryBruteForce,
		Severity:  models.SeverityCritical,
		Timestamp: now,
		Date:      "2026-08-29",
		SourceIP:  "10.0.0.5",
		Username:  "jdoe",
		RuleTags:  []string{"Suspicious Login Burst"},
	}
	if err := st.InsertSecurityEvent(ctx, ev); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	if err := st.InsertSecurityEvent(ctx, &models.SecurityEvent{
		EventID: "abc123", Category: models.CategoryIntrusion, Timestamp: now, Date: "2026-08-29",
	}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	exists, err := st.SecurityEventExists(ctx, "abc123")
	if err != nil || !exists {
		t.Fatalf("expected event to exist, got %v %v", exists, err)
	}

	has, err := st.HasBruteForceEvent(ctx, "jdoe", "10.0.0.5", now.Add(-5*time.Minute))
	if err != nil || !has {
		t.Fatalf("expected brute-force event in window, got %v %v", has, err)
	}
	has, err = st.HasBruteForceEvent(ctx, "jdoe", "10.0.0.5", now.Add(time.Minute))
	if err != nil || has {
		t.Fatalf("expected no brute-force event after window start, got %v %v", has, err)
	}

	got, err := st.ListSecurityEventsSince(ctx, "jdoe", models.CategoryBruteForce, now.Add(-time.Hour))
	if err != nil || len(got) != 1 {
		t.Fatalf("expected 1 event, got %d %v", len(got), err)
	}
	if len(got[0].RuleTags) != 1 || got[0].RuleTags[0] != "Suspicious Login Burst" {
		t.Fatalf("rule tags not round-tripped: %+v", got[0].RuleTags)
	}
}

func TestCountWebFilterBlockedIgnoresPassthroughActions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)

	insert := func(id, action, category string) {
		t.Helper()
		err := st.InsertSecurityEvent(ctx, &models.SecurityEvent{
			EventID:     id,
			Category:    models.CategoryWebFilter,
			Severity:    models.SeverityLow,
			Timestamp:   now,
			Date:        "2026-08-29",
			Username:    "jdoe",
			Action:      action,
			WebCategory: category,
		})
		if err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	insert("w1", "blocked", "Gambling")
	insert("w2", "blocked", "Gambling")
	insert("w3", "blocked", "Malware")
	insert("w4", "passthrough", "News")

	total, top, err := st.CountWebFilterBlocked(ctx, "jdoe", now.Add(-time.Hour), 3)
	if err != nil {
		t.Fatalf("CountWebFilterBlocked: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 blocked, got %d", total)
	}
	if len(top) == 0 || top[0].Category != "Gambling" || top[0].Count != 2 {
		t.Fatalf("unexpected top categories: %+v", top)
	}
}

func TestActiveUsernamesUnionsAllTables(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)

	if err := st.InsertConnection(ctx, &models.ConnectionRecord{
		SessionID: "s1", Username: "alice", StartTime: now, EndTime: now,
	}); err != nil {
		t.Fatalf("insert connection: %v", err)
	}
	if err := st.InsertAuthFailure(ctx, &models.AuthFailureRecord{
		DedupKey: "f1", Username: "bob", SourceIP: "10.0.0.5", Timestamp: now,
	}); err != nil {
		t.Fatalf("insert failure: %v", err)
	}
	if err := st.InsertSecurityEvent(ctx, &models.SecurityEvent{
		EventID: "e1", Category: models.CategoryIntrusion, Severity: models.SeverityHigh,
		Timestamp: now, Date: "2026-08-29", Username: "alice",
	}); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	names, err := st.ActiveUsernames(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ActiveUsernames: %v", err)
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	if len(names) != 2 || !seen["alice"] || !seen["bob"] {
		t.Fatalf("expected [alice bob], got %v", names)
	}
}

func TestReplaceRiskScoreIsTransactionalReplace(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	windowStart := now.Add(-7 * 24 * time.Hour)

	first := &models.UserRiskScore{
		Username: "jdoe", CurrentScore: 60, RiskLevel: models.RiskMedium,
		Trend: models.TrendUp, LastCalculated: now,
	}
	events := []models.RiskEvent{
		{Username: "jdoe", Source: "webfilter", WeightAdded: 60, Description: "blocked", Timestamp: now},
	}
	if err := st.ReplaceRiskScore(ctx, first, windowStart, events); err != nil {
		t.Fatalf("first replace: %v", err)
	}

	second := &models.UserRiskScore{
		Username: "jdoe", CurrentScore: 40, RiskLevel: models.RiskMedium,
		Trend: models.TrendDown, LastCalculated: now.Add(time.Minute),
	}
	replacement := []models.RiskEvent{
		{Username: "jdoe", Source: "vpn", WeightAdded: 40, Description: "impossible travel", Timestamp: now},
	}
	if err := st.ReplaceRiskScore(ctx, second, windowStart, replacement); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	score, err := st.GetRiskScore(ctx, "jdoe")
	if err != nil {
		t.Fatalf("GetRiskScore: %v", err)
	}
	if score == nil || score.CurrentScore != 40 || score.Trend != models.TrendDown {
		t.Fatalf("unexpected score after replace: %+v", score)
	}

	stored, err := st.ListRiskEvents(ctx, "jdoe")
	if err != nil {
		t.Fatalf("ListRiskEvents: %v", err)
	}
	if len(stored) != 1 || stored[0].Source != "vpn" || stored[0].WeightAdded != 40 {
		t.Fatalf("expected fully replaced contributions, got %+v", stored)
	}
}

func TestGetRiskScoreReturnsNilWhenAbsent(t *testing.T) {
	st := newTestStore(t)
	score, err := st.GetRiskScore(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetRiskScore: %v", err)
	}
	if score != nil {
		t.Fatalf("expected nil, got %+v", score)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)

	if err := st.InsertConnection(ctx, &models.ConnectionRecord{
		SessionID: "old", Username: "jdoe", StartTime: old, EndTime: old,
	}); err != nil {
		t.Fatalf("insert old connection: %v", err)
	}
	if err := st.InsertConnection(ctx, &models.ConnectionRecord{
		SessionID: "recent", Username: "jdoe", StartTime: recent, EndTime: recent,
	}); err != nil {
		t.Fatalf("insert recent connection: %v", err)
	}
	if err := st.InsertAuthFailure(ctx, &models.AuthFailureRecord{
		DedupKey: "f-old", Username: "jdoe", SourceIP: "10.0.0.5", Timestamp: old,
	}); err != nil {
		t.Fatalf("insert old failure: %v", err)
	}
	if err := st.InsertSecurityEvent(ctx, &models.SecurityEvent{
		EventID: "e-old", Category: models.CategoryIntrusion, Severity: models.SeverityHigh,
		Timestamp: old, Date: "2026-01-01",
	}); err != nil {
		t.Fatalf("insert old event: %v", err)
	}

	cutoff := recent.Add(-time.Hour)

	dry, err := st.DeleteOlderThan(ctx, cutoff, true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if dry.Total() != 3 {
		t.Fatalf("expected dry run total 3, got %+v", dry)
	}
	if n, _ := st.CountConnections(ctx); n != 2 {
		t.Fatalf("dry run must not delete, have %d connections", n)
	}

	res, err := st.DeleteOlderThan(ctx, cutoff, false)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.Connections != 1 || res.AuthFailures != 1 || res.Events != 1 {
		t.Fatalf("unexpected delete result: %+v", res)
	}
	if n, _ := st.CountConnections(ctx); n != 1 {
		t.Fatalf("expected 1 remaining connection, got %d", n)
	}
}
