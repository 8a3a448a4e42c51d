package detect

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"vpnsentry/internal/store"
	"vpnsentry/pkg/models"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func insertFailure(t *testing.T, st *store.Store, username, ip string, ts time.Time, n int) *models.AuthFailureRecord {
	t.Helper()
	rec := &models.AuthFailureRecord{
		DedupKey:  models.RawRecord{"user": username, "ip": ip, "n": n}.ContentHash(),
		Username:  username,
		SourceIP:  ip,
		Timestamp: ts,
		Reason:    "ssl-login-fail",
	}
	if err := st.InsertAuthFailure(context.Background(), rec); err != nil {
		t.Fatalf("insert failure %d: %v", n, err)
	}
	return rec
}

func TestBruteForceRaisesExactlyOneEventForBurst(t *testing.T) {
	st := newTestStore(t)
	detector := NewBruteForceDetector(st, BruteForceConfig{Window: 5 * time.Minute, Threshold: 5})
	ctx := context.Background()
	base := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)

	// 6 failures for jdoe@10.0.0.5 within 3 minutes. The 5th crosses the
	// threshold, the 6th must be suppressed by the existing event.
	var raised int
	for i := 0; i < 6; i++ {
		failure := insertFailure(t, st, "jdoe", "10.0.0.5", base.Add(time.Duration(i)*30*time.Second), i)
		ev, err := detector.Evaluate(ctx, failure)
		if err != nil {
			t.Fatalf("evaluate failure %d: %v", i, err)
		}
		if ev != nil {
			raised++
			if i != 4 {
				t.Fatalf("expected the 5th failure to raise the event, got failure %d", i)
			}
			if ev.Category != models.CategoryBruteForce || ev.Severity != models.SeverityCritical {
				t.Fatalf("unexpected event: %+v", ev)
			}
			if ev.Username != "jdoe" || ev.SourceIP != "10.0.0.5" {
				t.Fatalf("unexpected identity on event: %+v", ev)
			}
		}
	}
	if raised != 1 {
		t.Fatalf("expected exactly 1 event, got %d", raised)
	}

	count, err := st.CountSecurityEvents(ctx, models.CategoryBruteForce)
	if err != nil || count != 1 {
		t.Fatalf("expected 1 stored brute-force event, got %d %v", count, err)
	}
}

func TestBruteForceBelowThresholdRaisesNothing(t *testing.T) {
	st := newTestStore(t)
	detector := NewBruteForceDetector(st, BruteForceConfig{Window: 5 * time.Minute, Threshold: 5})
	ctx := context.Background()
	base := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		failure := insertFailure(t, st, "jdoe", "10.0.0.5", base.Add(time.Duration(i)*time.Minute), i)
		ev, err := detector.Evaluate(ctx, failure)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if ev != nil {
			t.Fatalf("unexpected event below threshold: %+v", ev)
		}
	}
}

func TestBruteForceCountsPerUserIPPair(t *testing.T) {
	st := newTestStore(t)
	detector := NewBruteForceDetector(st, BruteForceConfig{Window: 5 * time.Minute, Threshold: 5})
	ctx := context.Background()
	base := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)

	// 3 failures each from two different IPs never cross the per-pair
	// threshold, even though the user has 6 in total.
	for i := 0; i < 6; i++ {
		ip := fmt.Sprintf("10.0.0.%d", 5+i%2)
		failure := insertFailure(t, st, "jdoe", ip, base.Add(time.Duration(i)*30*time.Second), i)
		ev, err := detector.Evaluate(ctx, failure)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if ev != nil {
			t.Fatalf("unexpected event for split IPs: %+v", ev)
		}
	}
}

func TestBruteForceWindowSlides(t *testing.T) {
	st := newTestStore(t)
	detector := NewBruteForceDetector(st, BruteForceConfig{Window: 5 * time.Minute, Threshold: 5})
	ctx := context.Background()
	base := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)

	// 4 old failures fall out of the window before the burst resumes.
	for i := 0; i < 4; i++ {
		failure := insertFailure(t, st, "jdoe", "10.0.0.5", base.Add(time.Duration(i)*time.Minute), i)
		if _, err := detector.Evaluate(ctx, failure); err != nil {
			t.Fatalf("evaluate: %v", err)
		}
	}

	late := insertFailure(t, st, "jdoe", "10.0.0.5", base.Add(20*time.Minute), 99)
	ev, err := detector.Evaluate(ctx, late)
	if err != nil {
		t.Fatalf("evaluate late failure: %v", err)
	}
	if ev != nil {
		t.Fatalf("stale failures must not count toward the window: %+v", ev)
	}
}
