package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(10)
	durations := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond}
	for _, d := range durations {
		tracker.Observe(d)
	}

	if tracker.Count() != len(durations) {
		t.Fatalf("expected count %d, got %d", len(durations), tracker.Count())
	}

	p95 := tracker.Percentile(95)
	if p95 < 40*time.Millisecond {
		t.Fatalf("expected percentile >= 40ms, got %v", p95)
	}
	if got := tracker.Percentile(0); got != 10*time.Millisecond {
		t.Fatalf("expected min 10ms, got %v", got)
	}
}

func TestLatencyTrackerBoundedSize(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 0; i < 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 3 {
		t.Fatalf("expected tracker size 3, got %d", tracker.Count())
	}
	if tracker.Total() != 10 {
		t.Fatalf("expected 10 observations, got %d", tracker.Total())
	}
	if got := tracker.Percentile(100); got != 9*time.Millisecond {
		t.Fatalf("expected newest sample retained, got %v", got)
	}
}

func TestParseTimestampFormats(t *testing.T) {
	cases := []string{
		"2024-03-01T10:15:00Z",
		"2024-03-01T10:15:00+00:00",
		"2024-03-01T10:15:00",
		"2024-03-01T10:15:00.000000",
	}
	want := time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)
	for _, c := range cases {
		got, err := ParseTimestamp(c)
		if err != nil {
			t.Fatalf("parse %q: %v", c, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parse %q: got %v want %v", c, got, want)
		}
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
