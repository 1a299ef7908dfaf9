package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
	telemetrypostgres "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestSampleQuery_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "telemetry") || !tableExists(db, "telemetry_5m") {
		t.Skip("telemetry tables missing; run migrations")
	}

	ctx := context.Background()
	machineID := "CNC-IT-001"
	start := time.Date(2026, time.January, 21, 9, 0, 0, 0, time.UTC)

	_, _ = db.ExecContext(ctx, "DELETE FROM telemetry WHERE machine_id = $1", machineID)
	_, _ = db.ExecContext(ctx, "DELETE FROM telemetry_5m WHERE machine_id = $1", machineID)

	repo := telemetrypostgres.NewSampleRepository(db)
	query := telemetrypostgres.NewSampleQuery(db)

	samples := []telemetry.Sample{
		{MachineID: machineID, Timestamp: start, RPM: 3000, FeedRate: 900, State: telemetry.StateRunning},
		{MachineID: machineID, Timestamp: start.Add(2 * time.Second), RPM: 4000, FeedRate: 1000, State: telemetry.StateRunning},
		{MachineID: machineID, Timestamp: start.Add(4 * time.Second), RPM: 0, FeedRate: 0, State: telemetry.StateIdle},
	}
	if err := repo.UpsertSamples(ctx, samples); err != nil {
		t.Fatalf("upsert samples: %v", err)
	}
	// Same key again: last write wins.
	samples[2].State = telemetry.StateStopped
	if err := repo.UpsertSamples(ctx, samples[2:]); err != nil {
		t.Fatalf("re-upsert sample: %v", err)
	}

	rows, err := query.QuerySamples(ctx, machineID, start, start.Add(time.Minute), 0)
	if err != nil {
		t.Fatalf("query samples: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(rows))
	}
	if rows[0].State != telemetry.StateStopped {
		t.Fatalf("expected newest sample first with overwritten state, got %+v", rows[0])
	}

	counts, err := query.AggregateCounts(ctx, machineID, start, start.Add(4*time.Second))
	if err != nil {
		t.Fatalf("aggregate counts: %v", err)
	}
	if counts.Total != 2 || counts.Running != 2 || counts.AvgRPMRunning != 3500 {
		t.Fatalf("unexpected counts: %+v", counts)
	}

	bucket, ok := telemetry.BuildBucket(machineID, start, rows)
	if !ok {
		t.Fatalf("expected bucket")
	}
	if err := repo.UpsertBucket(ctx, telemetry.Resolution5m, bucket); err != nil {
		t.Fatalf("upsert bucket: %v", err)
	}
	buckets, err := query.QueryBuckets(ctx, machineID, telemetry.Resolution5m, start, start.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("query buckets: %v", err)
	}
	if len(buckets) != 1 || buckets[0].SampleCount != 3 {
		t.Fatalf("unexpected buckets: %+v", buckets)
	}
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}
