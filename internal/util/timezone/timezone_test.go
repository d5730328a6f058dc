package timezone

import (
	"testing"
	"time"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Europe/Berlin", "Europe/Berlin"},
		{"Not/AZone", "UTC"},
		{"UTC", "UTC"},
	}

	for _, tt := range tests {
		Initialize(tt.name)
		if got := Location().String(); got != tt.want {
			t.Errorf("Initialize(%q): location = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestISO8601(t *testing.T) {
	Initialize("UTC")
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.FixedZone("CET", 3600))
	if got := ISO8601(ts); got != "2024-03-01T09:30:00Z" {
		t.Errorf("ISO8601() = %q", got)
	}
}
