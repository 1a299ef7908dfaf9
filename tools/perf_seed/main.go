package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	analyticsapp "github.com/Viniciusjohn/cnc-telemetry/internal/analytics/application"
	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
	telemetrypostgres "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/infrastructure/postgres"
)

type config struct {
	dsn           string
	machinePrefix string
	machineCount  int
	startDate     string
	days          int
	interval      time.Duration
	batchSize     int
	rollup        bool
}

func main() {
	cfg := parseConfig()
	if cfg.dsn == "" {
		log.Fatal("PG_DSN or DATABASE_URL is required")
	}
	if cfg.machineCount <= 0 {
		log.Fatal("machine-count must be > 0")
	}
	if cfg.days <= 0 {
		log.Fatal("days must be > 0")
	}
	if cfg.interval <= 0 {
		log.Fatal("interval must be > 0")
	}

	start, err := parseStartDate(cfg.startDate)
	if err != nil {
		log.Fatalf("invalid start-date: %v", err)
	}
	machineIDs := buildMachineIDs(cfg.machinePrefix, cfg.machineCount)

	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := telemetrypostgres.NewSampleRepository(db)
	end := start.AddDate(0, 0, cfg.days)

	log.Printf("seeding telemetry: machines=%d days=%d interval=%s", cfg.machineCount, cfg.days, cfg.interval)
	for idx, machineID := range machineIDs {
		count, err := seedMachine(ctx, repo, machineID, idx, start, end, cfg.interval, cfg.batchSize)
		if err != nil {
			log.Fatalf("seed machine %s: %v", machineID, err)
		}
		log.Printf("seeded machine %s samples=%d (%d/%d)", machineID, count, idx+1, len(machineIDs))
	}

	if cfg.rollup {
		rollups, err := analyticsapp.NewRollupService(telemetrypostgres.NewSampleQuery(db), repo, nil)
		if err != nil {
			log.Fatalf("rollup service: %v", err)
		}
		for _, res := range telemetry.BucketResolutions {
			windows := 0
			for windowStart := start; windowStart.Before(end); windowStart = windowStart.Add(res.Span()) {
				if _, err := rollups.Rollup(ctx, res, windowStart); err != nil {
					log.Fatalf("rollup %s %s: %v", res, windowStart.Format(time.RFC3339), err)
				}
				windows++
			}
			log.Printf("rolled up %d %s windows", windows, res)
		}
	}

	log.Printf("perf seed completed")
}

// seedMachine writes a repeating shift pattern. Machines are phase-shifted
// by their index so the fleet does not stop in lockstep.
func seedMachine(ctx context.Context, writer telemetry.SampleWriter, machineID string, idx int, start, end time.Time, interval time.Duration, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	batch := make([]telemetry.Sample, 0, batchSize)
	count := 0
	offset := time.Duration(idx) * 7 * time.Minute
	baseRPM := 2500 + float64(idx%5)*400
	for ts := start; ts.Before(end); ts = ts.Add(interval) {
		state := stateAt(ts.Add(offset))
		sample := telemetry.Sample{MachineID: machineID, Timestamp: ts, State: state}
		if state == telemetry.StateRunning {
			sample.RPM = baseRPM + float64(ts.Minute()%10)*25
			sample.FeedRate = sample.RPM / 3
		}
		batch = append(batch, sample)
		if len(batch) == batchSize {
			if err := writer.UpsertSamples(ctx, batch); err != nil {
				return count, err
			}
			count += len(batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := writer.UpsertSamples(ctx, batch); err != nil {
			return count, err
		}
		count += len(batch)
	}
	return count, nil
}

// stateAt runs 40 minutes, stops 5, idles 15 within each hour; nights idle.
func stateAt(ts time.Time) telemetry.State {
	if h := ts.UTC().Hour(); h < 6 || h >= 22 {
		return telemetry.StateIdle
	}
	switch m := ts.UTC().Minute(); {
	case m < 40:
		return telemetry.StateRunning
	case m < 45:
		return telemetry.StateStopped
	default:
		return telemetry.StateIdle
	}
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN")
	flag.StringVar(&cfg.machinePrefix, "machine-prefix", envOrDefault("MACHINE_PREFIX", "CNC-PERF-"), "machine id prefix")
	flag.IntVar(&cfg.machineCount, "machine-count", envOrInt("MACHINE_COUNT", 5), "number of machines to seed")
	flag.StringVar(&cfg.startDate, "start-date", envOrDefault("START_DATE", ""), "start date (YYYY-MM-DD or RFC3339)")
	flag.IntVar(&cfg.days, "days", envOrInt("DAYS", 7), "number of days to seed")
	flag.DurationVar(&cfg.interval, "interval", envOrDuration("SAMPLE_INTERVAL", 2*time.Second), "spacing between samples")
	flag.IntVar(&cfg.batchSize, "batch-size", envOrInt("BATCH_SIZE", 500), "samples per transaction")
	flag.BoolVar(&cfg.rollup, "rollup", envOrBool("SEED_ROLLUPS", true), "build 5m/1h/1d buckets after seeding")
	flag.Parse()
	return cfg
}

func parseStartDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Now().UTC().AddDate(0, 0, -7).Truncate(24 * time.Hour), nil
	}
	if strings.Contains(value, "T") {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, err
		}
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

func buildMachineIDs(prefix string, count int) []string {
	list := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		list = append(list, fmt.Sprintf("%s%03d", prefix, i))
	}
	return list
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
