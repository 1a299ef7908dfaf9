package telemetry

import (
	"context"
	"time"
)

// Counts are the aggregate figures the OEE formula needs.
type Counts struct {
	Total         int
	Running       int
	AvgRPMRunning float64
	MaxRPM        float64
}

// Summary holds descriptive statistics over raw samples.
type Summary struct {
	Total   int
	Running int
	Stopped int
	Idle    int
	AvgRPM  float64
	MaxRPM  float64
	MinRPM  float64
	AvgFeed float64
	MaxFeed float64
}

// SampleWriter persists samples with last-write-wins on (machine_id, timestamp).
type SampleWriter interface {
	UpsertSamples(ctx context.Context, samples []Sample) error
}

// BucketWriter persists pre-aggregated buckets.
type BucketWriter interface {
	UpsertBucket(ctx context.Context, res Resolution, bucket Bucket) error
}

// SampleReader is the query contract of the sample store.
//
// Range queries are inclusive on both ends and return rows newest first.
// A non-positive limit means no cap. Implementations return
// ErrDataUnavailable when the dataset for a resolution is missing.
type SampleReader interface {
	QuerySamples(ctx context.Context, machineID string, from, to time.Time, limit int) ([]Sample, error)
	QueryBuckets(ctx context.Context, machineID string, res Resolution, from, to time.Time, limit int) ([]Bucket, error)
	// AggregateCounts covers the half-open window [from, to).
	AggregateCounts(ctx context.Context, machineID string, from, to time.Time) (Counts, error)
	DistinctActiveMachines(ctx context.Context, since time.Time) ([]string, error)
	RecentSamples(ctx context.Context, machineID string, since time.Time, limit int) ([]Sample, error)
	Summarize(ctx context.Context, machineID string, from, to time.Time) (Summary, error)
}
