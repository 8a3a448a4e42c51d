package models

import "testing"

func TestRawRecordStringPrefersFirstNonEmptyField(t *testing.T) {
	raw := RawRecord{"remip": "", "srcip": "10.0.0.5", "srcport": float64(443)}

	if got := raw.String("remip", "srcip"); got != "10.0.0.5" {
		t.Fatalf("expected srcip fallback, got %q", got)
	}
	if got := raw.String("srcport"); got != "443" {
		t.Fatalf("expected numeric coercion to 443, got %q", got)
	}
	if got := raw.String("missing"); got != "" {
		t.Fatalf("expected empty string for missing field, got %q", got)
	}
}

func TestRawRecordInt(t *testing.T) {
	raw := RawRecord{
		"duration": "3600",
		"rcvdbyte": float64(1048576),
		"sentbyte": " 42 ",
		"garbage":  "not-a-number",
	}

	if got := raw.Int("duration"); got != 3600 {
		t.Fatalf("expected 3600, got %d", got)
	}
	if got := raw.Int("rcvdbyte"); got != 1048576 {
		t.Fatalf("expected 1048576, got %d", got)
	}
	if got := raw.Int("sentbyte"); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if got := raw.Int("garbage"); got != 0 {
		t.Fatalf("expected 0 for unparseable value, got %d", got)
	}
}

func TestContentHashIsDeterministic(t *testing.T) {
	a := RawRecord{"user": "jdoe", "srcip": "10.0.0.5", "action": "tunnel-up"}
	b := RawRecord{"action": "tunnel-up", "srcip": "10.0.0.5", "user": "jdoe"}

	if a.ContentHash() != b.ContentHash() {
		t.Fatalf("identical records with different field order must hash equal")
	}

	c := RawRecord{"user": "jdoe", "srcip": "10.0.0.6", "action": "tunnel-up"}
	if a.ContentHash() == c.ContentHash() {
		t.Fatalf("distinct records must not hash equal")
	}
}
