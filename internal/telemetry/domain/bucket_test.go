package telemetry

import (
	"errors"
	"testing"
	"time"
)

func TestParseResolution(t *testing.T) {
	for _, value := range []string{"raw", "5m", "1h", "1d"} {
		if _, err := ParseResolution(value); err != nil {
			t.Fatalf("resolution %s: %v", value, err)
		}
	}
	if _, err := ParseResolution("15m"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestResolutionTruncate(t *testing.T) {
	at := time.Date(2025, 11, 5, 10, 47, 31, 0, time.UTC)
	if got := Resolution5m.Truncate(at); !got.Equal(time.Date(2025, 11, 5, 10, 45, 0, 0, time.UTC)) {
		t.Fatalf("5m truncate: %v", got)
	}
	if got := Resolution1h.Truncate(at); !got.Equal(time.Date(2025, 11, 5, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("1h truncate: %v", got)
	}
	if got := Resolution1d.Truncate(at); !got.Equal(time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("1d truncate: %v", got)
	}
}

func TestBuildBucket(t *testing.T) {
	start := time.Date(2025, 11, 5, 10, 0, 0, 0, time.UTC)
	samples := []Sample{
		{MachineID: "M1", Timestamp: start, RPM: 1000, FeedRate: 100, State: StateRunning},
		{MachineID: "M1", Timestamp: start.Add(2 * time.Second), RPM: 3000, FeedRate: 300, State: StateRunning},
		{MachineID: "M1", Timestamp: start.Add(4 * time.Second), RPM: 0, FeedRate: 0, State: StateIdle},
		{MachineID: "M1", Timestamp: start.Add(6 * time.Second), RPM: 2000, FeedRate: 200, State: StateRunning},
	}
	bucket, ok := BuildBucket("M1", start, samples)
	if !ok {
		t.Fatal("expected bucket")
	}
	if bucket.SampleCount != 4 {
		t.Fatalf("sample count: %d", bucket.SampleCount)
	}
	if bucket.RPMAvg != 1500 || *bucket.RPMMax != 3000 || *bucket.RPMMin != 0 {
		t.Fatalf("rpm stats: avg=%v max=%v min=%v", bucket.RPMAvg, *bucket.RPMMax, *bucket.RPMMin)
	}
	if bucket.UptimeRatio != 0.75 {
		t.Fatalf("uptime ratio: %v", bucket.UptimeRatio)
	}
	if bucket.DominantState != StateRunning {
		t.Fatalf("dominant state: %s", bucket.DominantState)
	}

	if _, ok := BuildBucket("M1", start, nil); ok {
		t.Fatal("expected no bucket for empty input")
	}
}

func TestDominantStateTieBreak(t *testing.T) {
	got := dominantState(map[State]int{StateIdle: 2, StateStopped: 2})
	if got != StateStopped {
		t.Fatalf("expected stopped on tie with idle, got %s", got)
	}
}
