package telemetry

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record is the uniform row shape returned by history queries.
type Record struct {
	Timestamp   time.Time `json:"timestamp"`
	MachineID   string    `json:"machine_id"`
	RPM         float64   `json:"rpm"`
	FeedRate    float64   `json:"feed_rate"`
	State       State     `json:"state,omitempty"`
	Sequence    *int64    `json:"sequence,omitempty"`
	RPMMax      *float64  `json:"rpm_max,omitempty"`
	RPMMin      *float64  `json:"rpm_min,omitempty"`
	FeedMax     *float64  `json:"feed_max,omitempty"`
	FeedMin     *float64  `json:"feed_min,omitempty"`
	SampleCount *int      `json:"sample_count,omitempty"`
	UptimeRatio *float64  `json:"uptime_ratio,omitempty"`
}

// RecordFromSample shapes a raw sample.
func RecordFromSample(s Sample) Record {
	return Record{
		Timestamp: s.Timestamp.UTC(),
		MachineID: s.MachineID,
		RPM:       Round(s.RPM, 1),
		FeedRate:  Round(s.FeedRate, 1),
		State:     s.State,
		Sequence:  s.Sequence,
	}
}

// RecordFromBucket shapes a bucket row.
func RecordFromBucket(b Bucket) Record {
	count := b.SampleCount
	uptime := Round(b.UptimeRatio, 4)
	return Record{
		Timestamp:   b.Start.UTC(),
		MachineID:   b.MachineID,
		RPM:         Round(b.RPMAvg, 1),
		FeedRate:    Round(b.FeedAvg, 1),
		State:       b.DominantState,
		RPMMax:      roundPtr(b.RPMMax, 1),
		RPMMin:      roundPtr(b.RPMMin, 1),
		FeedMax:     roundPtr(b.FeedMax, 1),
		FeedMin:     roundPtr(b.FeedMin, 1),
		SampleCount: &count,
		UptimeRatio: &uptime,
	}
}

// Round rounds half away from zero to the given number of decimal places.
func Round(value float64, places int32) float64 {
	rounded, _ := decimal.NewFromFloat(value).Round(places).Float64()
	return rounded
}

func roundPtr(value *float64, places int32) *float64 {
	if value == nil {
		return nil
	}
	rounded := Round(*value, places)
	return &rounded
}
