package telemetry

import (
	"encoding/json"
	"testing"
	"time"
)

func floatRef(v float64) *float64 { return &v }

func TestRecordFromBucketShaping(t *testing.T) {
	start := time.Date(2025, 11, 5, 10, 5, 0, 0, time.FixedZone("BRT", -3*60*60))
	cases := []struct {
		name    string
		bucket  Bucket
		want    Record
		absent  []string
		present []string
	}{
		{
			name: "5m carries every extreme",
			bucket: Bucket{
				Start: start, MachineID: "CNC-1",
				RPMAvg: 3512.349, FeedAvg: 1199.96,
				RPMMax: floatRef(4200.06), RPMMin: floatRef(2999.94),
				FeedMax: floatRef(1300.25), FeedMin: floatRef(1100.04),
				DominantState: StateRunning, SampleCount: 150, UptimeRatio: 0.666666,
			},
			want: Record{
				Timestamp: start.UTC(), MachineID: "CNC-1",
				RPM: 3512.3, FeedRate: 1200, State: StateRunning,
				RPMMax: floatRef(4200.1), RPMMin: floatRef(2999.9),
				FeedMax: floatRef(1300.3), FeedMin: floatRef(1100),
			},
			present: []string{"rpm_max", "rpm_min", "feed_max", "feed_min", "sample_count", "uptime_ratio"},
		},
		{
			name: "1h omits what the dataset lacks",
			bucket: Bucket{
				Start: start, MachineID: "CNC-1",
				RPMAvg: 2100.55, FeedAvg: 800.04,
				RPMMax: floatRef(4000.01),
				SampleCount: 1800, UptimeRatio: 0.33335,
			},
			want: Record{
				Timestamp: start.UTC(), MachineID: "CNC-1",
				RPM: 2100.6, FeedRate: 800,
				RPMMax: floatRef(4000),
			},
			absent:  []string{"rpm_min", "feed_max", "feed_min", "state"},
			present: []string{"rpm_max", "sample_count", "uptime_ratio"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RecordFromBucket(tc.bucket)
			if !got.Timestamp.Equal(tc.want.Timestamp) || got.Timestamp.Location() != time.UTC {
				t.Fatalf("timestamp: got %v", got.Timestamp)
			}
			if got.RPM != tc.want.RPM || got.FeedRate != tc.want.FeedRate || got.State != tc.want.State {
				t.Fatalf("averages: got rpm=%v feed=%v state=%q", got.RPM, got.FeedRate, got.State)
			}
			for label, pair := range map[string][2]*float64{
				"rpm_max":  {got.RPMMax, tc.want.RPMMax},
				"rpm_min":  {got.RPMMin, tc.want.RPMMin},
				"feed_max": {got.FeedMax, tc.want.FeedMax},
				"feed_min": {got.FeedMin, tc.want.FeedMin},
			} {
				if (pair[0] == nil) != (pair[1] == nil) || (pair[0] != nil && *pair[0] != *pair[1]) {
					t.Fatalf("%s: got %v want %v", label, pair[0], pair[1])
				}
			}
			if got.SampleCount == nil || *got.SampleCount != tc.bucket.SampleCount {
				t.Fatalf("sample_count: got %v", got.SampleCount)
			}

			raw, err := json.Marshal(got)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var fields map[string]any
			if err := json.Unmarshal(raw, &fields); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			for _, key := range tc.present {
				if _, ok := fields[key]; !ok {
					t.Fatalf("missing %s in %s", key, raw)
				}
			}
			for _, key := range tc.absent {
				if _, ok := fields[key]; ok {
					t.Fatalf("unexpected %s in %s", key, raw)
				}
			}
		})
	}
}

func TestRecordFromBucketUptimeFourPlaces(t *testing.T) {
	for _, tc := range []struct {
		in, want float64
	}{
		{0.666666, 0.6667},
		{0.33335, 0.3334},
		{1, 1},
		{0, 0},
	} {
		got := RecordFromBucket(Bucket{UptimeRatio: tc.in})
		if got.UptimeRatio == nil || *got.UptimeRatio != tc.want {
			t.Fatalf("uptime %v: got %v want %v", tc.in, got.UptimeRatio, tc.want)
		}
	}
}

func TestRecordFromSampleOmitsBucketFields(t *testing.T) {
	seq := int64(12)
	got := RecordFromSample(Sample{
		MachineID: "CNC-1", Timestamp: time.Date(2025, 11, 5, 10, 0, 0, 0, time.UTC),
		RPM: 1234.56, FeedRate: 99.94, State: StateIdle, Sequence: &seq,
	})
	if got.RPM != 1234.6 || got.FeedRate != 99.9 || got.Sequence == nil || *got.Sequence != 12 {
		t.Fatalf("record: %+v", got)
	}
	if got.RPMMax != nil || got.SampleCount != nil || got.UptimeRatio != nil {
		t.Fatalf("raw record carries bucket fields: %+v", got)
	}
}
