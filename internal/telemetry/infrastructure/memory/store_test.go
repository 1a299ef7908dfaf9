package memory

import (
	"context"
	"testing"
	"time"

	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

func TestStoreUpsertIsLastWriteWins(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	at := time.Date(2025, 11, 5, 8, 0, 0, 0, time.UTC)

	first := telemetry.Sample{MachineID: "M1", Timestamp: at, RPM: 1000, State: telemetry.StateRunning}
	second := telemetry.Sample{MachineID: "M1", Timestamp: at, RPM: 2000, State: telemetry.StateStopped}
	if err := store.UpsertSamples(ctx, []telemetry.Sample{first}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpsertSamples(ctx, []telemetry.Sample{second}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rows, err := store.QuerySamples(ctx, "M1", at.Add(-time.Minute), at.Add(time.Minute), 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].RPM != 2000 || rows[0].State != telemetry.StateStopped {
		t.Fatalf("expected second write to win, got %+v", rows[0])
	}
}

func TestStoreAggregateCountsHalfOpen(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	start := time.Date(2025, 11, 5, 6, 0, 0, 0, time.UTC)
	end := start.Add(8 * time.Hour)

	samples := []telemetry.Sample{
		{MachineID: "M1", Timestamp: start, RPM: 4000, State: telemetry.StateRunning},
		{MachineID: "M1", Timestamp: start.Add(2 * time.Second), RPM: 5000, State: telemetry.StateRunning},
		{MachineID: "M1", Timestamp: start.Add(4 * time.Second), RPM: 0, State: telemetry.StateIdle},
		{MachineID: "M1", Timestamp: end, RPM: 9000, State: telemetry.StateRunning},
	}
	if err := store.UpsertSamples(ctx, samples); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	counts, err := store.AggregateCounts(ctx, "M1", start, end)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if counts.Total != 3 || counts.Running != 2 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	if counts.AvgRPMRunning != 4500 || counts.MaxRPM != 5000 {
		t.Fatalf("unexpected rpm stats: %+v", counts)
	}
}

func TestStoreDistinctActiveMachines(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2025, 11, 5, 8, 0, 0, 0, time.UTC)
	_ = store.UpsertSamples(ctx, []telemetry.Sample{
		{MachineID: "M2", Timestamp: now.Add(-time.Minute), State: telemetry.StateIdle},
		{MachineID: "M1", Timestamp: now.Add(-2 * time.Minute), State: telemetry.StateIdle},
		{MachineID: "M3", Timestamp: now.Add(-time.Hour), State: telemetry.StateIdle},
	})

	machines, err := store.DistinctActiveMachines(ctx, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("active machines: %v", err)
	}
	if len(machines) != 2 || machines[0] != "M1" || machines[1] != "M2" {
		t.Fatalf("unexpected machines: %v", machines)
	}
}

func TestStoreQueryBucketsDaily(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	day := time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		bucket := telemetry.Bucket{MachineID: "M1", Start: day.AddDate(0, 0, i), SampleCount: 10}
		if err := store.UpsertBucket(ctx, telemetry.Resolution1d, bucket); err != nil {
			t.Fatalf("upsert bucket: %v", err)
		}
	}

	rows, err := store.QueryBuckets(ctx, "M1", telemetry.Resolution1d, day.Add(13*time.Hour), day.AddDate(0, 0, 2).Add(time.Hour), 1)
	if err != nil {
		t.Fatalf("query buckets: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected limit to apply at store level, got %d", len(rows))
	}
	if !rows[0].Start.Equal(day.AddDate(0, 0, 2)) {
		t.Fatalf("expected newest day first, got %v", rows[0].Start)
	}
}
