package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

const defaultTelemetryTable = "telemetry"

// bucketTable names the dataset of a bucket resolution, e.g. telemetry_5m.
func bucketTable(base string, res telemetry.Resolution) string {
	return base + "_" + string(res)
}

// SampleRepository is a Postgres implementation of the sample and bucket writers.
type SampleRepository struct {
	db    *sql.DB
	table string
}

// NewSampleRepository constructs a repository with default table name.
func NewSampleRepository(db *sql.DB, opts ...RepositoryOption) *SampleRepository {
	repo := &SampleRepository{db: db, table: defaultTelemetryTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*SampleRepository)

// WithTable overrides the default table name. Bucket datasets derive their
// names from it.
func WithTable(table string) RepositoryOption {
	return func(repo *SampleRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// UpsertSamples writes samples, last write wins on (machine_id, ts).
func (r *SampleRepository) UpsertSamples(ctx context.Context, samples []telemetry.Sample) error {
	if r == nil || r.db == nil {
		return errors.New("telemetry repo: nil db")
	}
	if len(samples) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	ts,
	machine_id,
	rpm,
	feed_mm_min,
	state,
	sequence
) VALUES (
	$1, $2, $3, $4, $5, $6
)
ON CONFLICT (machine_id, ts)
DO UPDATE SET
	rpm = EXCLUDED.rpm,
	feed_mm_min = EXCLUDED.feed_mm_min,
	state = EXCLUDED.state,
	sequence = EXCLUDED.sequence,
	ingested_at = NOW()`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, s := range samples {
		if s.MachineID == "" || s.Timestamp.IsZero() {
			_ = tx.Rollback()
			return errors.New("telemetry repo: invalid sample")
		}
		sequence := sql.NullInt64{}
		if s.Sequence != nil {
			sequence = sql.NullInt64{Int64: *s.Sequence, Valid: true}
		}
		if _, err := stmt.ExecContext(
			ctx,
			s.Timestamp.UTC(),
			s.MachineID,
			s.RPM,
			s.FeedRate,
			string(s.State),
			sequence,
		); err != nil {
			_ = tx.Rollback()
			return mapError(err)
		}
	}

	return tx.Commit()
}

// UpsertBucket writes one pre-aggregated bucket. The 1h dataset keeps avg and
// max only; the 1d dataset is keyed by date and stores the ratio as availability.
func (r *SampleRepository) UpsertBucket(ctx context.Context, res telemetry.Resolution, b telemetry.Bucket) error {
	if r == nil || r.db == nil {
		return errors.New("telemetry repo: nil db")
	}
	if b.MachineID == "" || b.Start.IsZero() || b.SampleCount <= 0 {
		return errors.New("telemetry repo: invalid bucket")
	}
	table := bucketTable(r.table, res)

	var (
		query string
		args  []any
	)
	switch res {
	case telemetry.Resolution5m:
		query = fmt.Sprintf(`
INSERT INTO %s (
	bucket, machine_id, rpm_avg, rpm_max, rpm_min, feed_avg, feed_max, feed_min,
	state_mode, sample_count, uptime_ratio
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
)
ON CONFLICT (machine_id, bucket)
DO UPDATE SET
	rpm_avg = EXCLUDED.rpm_avg,
	rpm_max = EXCLUDED.rpm_max,
	rpm_min = EXCLUDED.rpm_min,
	feed_avg = EXCLUDED.feed_avg,
	feed_max = EXCLUDED.feed_max,
	feed_min = EXCLUDED.feed_min,
	state_mode = EXCLUDED.state_mode,
	sample_count = EXCLUDED.sample_count,
	uptime_ratio = EXCLUDED.uptime_ratio`, table)
		args = []any{
			b.Start.UTC(), b.MachineID, b.RPMAvg, nullFloat(b.RPMMax), nullFloat(b.RPMMin),
			b.FeedAvg, nullFloat(b.FeedMax), nullFloat(b.FeedMin),
			string(b.DominantState), b.SampleCount, b.UptimeRatio,
		}
	case telemetry.Resolution1h:
		query = fmt.Sprintf(`
INSERT INTO %s (
	bucket, machine_id, rpm_avg, rpm_max, feed_avg, sample_count, uptime_ratio
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)
ON CONFLICT (machine_id, bucket)
DO UPDATE SET
	rpm_avg = EXCLUDED.rpm_avg,
	rpm_max = EXCLUDED.rpm_max,
	feed_avg = EXCLUDED.feed_avg,
	sample_count = EXCLUDED.sample_count,
	uptime_ratio = EXCLUDED.uptime_ratio`, table)
		args = []any{
			b.Start.UTC(), b.MachineID, b.RPMAvg, nullFloat(b.RPMMax),
			b.FeedAvg, b.SampleCount, b.UptimeRatio,
		}
	case telemetry.Resolution1d:
		query = fmt.Sprintf(`
INSERT INTO %s (
	date, machine_id, rpm_avg, rpm_max, feed_avg, sample_count, availability
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)
ON CONFLICT (machine_id, date)
DO UPDATE SET
	rpm_avg = EXCLUDED.rpm_avg,
	rpm_max = EXCLUDED.rpm_max,
	feed_avg = EXCLUDED.feed_avg,
	sample_count = EXCLUDED.sample_count,
	availability = EXCLUDED.availability`, table)
		args = []any{
			telemetry.Resolution1d.Truncate(b.Start), b.MachineID, b.RPMAvg, nullFloat(b.RPMMax),
			b.FeedAvg, b.SampleCount, b.UptimeRatio,
		}
	default:
		return fmt.Errorf("%w: %q is not a bucket resolution", telemetry.ErrInvalidArgument, res)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return mapError(err)
	}
	return nil
}

func nullFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}
