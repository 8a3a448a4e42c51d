package directory

import "testing"

func TestCleanUsername(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`CORP\jdoe`, "jdoe"},
		{"jdoe", "jdoe"},
		{`A\B\jdoe`, "jdoe"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanUsername(tt.in); got != tt.want {
			t.Errorf("CleanUsername(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsPlaceholder(t *testing.T) {
	for _, name := range []string{"", "unknown", "N/A"} {
		if !IsPlaceholder(name) {
			t.Errorf("expected %q to be a placeholder", name)
		}
	}
	if IsPlaceholder("jdoe") {
		t.Errorf("jdoe is not a placeholder")
	}
}
