package store

import (
	"testing"
	"time"
)

func TestPremiereStatus(t *testing.T) {
	start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	p := Premiere{
		ID:        "p1",
		StartTime: start,
		Duration:  90 * time.Minute,
	}

	if s := p.Status(start.Add(-time.Hour)); s != StatusScheduled {
		t.Fatalf("before start: got %q, want %q", s, StatusScheduled)
	}
	if s := p.Status(start); s != StatusLive {
		t.Fatalf("at start: got %q, want %q", s, StatusLive)
	}
	if s := p.Status(start.Add(89 * time.Minute)); s != StatusLive {
		t.Fatalf("near end: got %q, want %q", s, StatusLive)
	}
	if s := p.Status(start.Add(90 * time.Minute)); s != StatusEnded {
		t.Fatalf("at end: got %q, want %q", s, StatusEnded)
	}
}
