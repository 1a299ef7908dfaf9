package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

// SampleQuery is a Postgres implementation of the sample reader.
type SampleQuery struct {
	db    *sql.DB
	table string
}

// NewSampleQuery constructs a query with default table name.
func NewSampleQuery(db *sql.DB, opts ...QueryOption) *SampleQuery {
	query := &SampleQuery{db: db, table: defaultTelemetryTable}
	for _, opt := range opts {
		opt(query)
	}
	return query
}

// QueryOption configures the sample query.
type QueryOption func(*SampleQuery)

// WithQueryTable overrides the default table name for queries.
func WithQueryTable(table string) QueryOption {
	return func(query *SampleQuery) {
		if query != nil && table != "" {
			query.table = table
		}
	}
}

func (q *SampleQuery) ready() error {
	if q == nil || q.db == nil {
		return errors.New("telemetry query: nil db")
	}
	return nil
}

// limitClause renders LIMIT for positive limits only.
func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf("\nLIMIT %d", limit)
}

// QuerySamples returns raw samples within [from, to], newest first.
func (q *SampleQuery) QuerySamples(ctx context.Context, machineID string, from, to time.Time, limit int) ([]telemetry.Sample, error) {
	if err := q.ready(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT ts, machine_id, rpm, feed_mm_min, state, sequence
FROM %s
WHERE machine_id = $1
	AND ts >= $2
	AND ts <= $3
ORDER BY ts DESC%s`, q.table, limitClause(limit))
	return q.selectSamples(ctx, query, machineID, from.UTC(), to.UTC())
}

// RecentSamples returns samples at or after since, newest first.
func (q *SampleQuery) RecentSamples(ctx context.Context, machineID string, since time.Time, limit int) ([]telemetry.Sample, error) {
	if err := q.ready(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT ts, machine_id, rpm, feed_mm_min, state, sequence
FROM %s
WHERE machine_id = $1
	AND ts >= $2
ORDER BY ts DESC%s`, q.table, limitClause(limit))
	return q.selectSamples(ctx, query, machineID, since.UTC())
}

func (q *SampleQuery) selectSamples(ctx context.Context, query string, args ...any) ([]telemetry.Sample, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]telemetry.Sample, 0)
	for rows.Next() {
		var (
			s        telemetry.Sample
			rpm      sql.NullFloat64
			feed     sql.NullFloat64
			state    sql.NullString
			sequence sql.NullInt64
		)
		if err := rows.Scan(&s.Timestamp, &s.MachineID, &rpm, &feed, &state, &sequence); err != nil {
			return nil, err
		}
		s.Timestamp = s.Timestamp.UTC()
		s.RPM = rpm.Float64
		s.FeedRate = feed.Float64
		s.State = telemetry.State(state.String)
		if sequence.Valid {
			value := sequence.Int64
			s.Sequence = &value
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// QueryBuckets returns buckets within [from, to], newest first. The 1d
// dataset compares on dates and carries a reduced column set.
func (q *SampleQuery) QueryBuckets(ctx context.Context, machineID string, res telemetry.Resolution, from, to time.Time, limit int) ([]telemetry.Bucket, error) {
	if err := q.ready(); err != nil {
		return nil, err
	}
	table := bucketTable(q.table, res)

	var query string
	switch res {
	case telemetry.Resolution5m:
		query = fmt.Sprintf(`
SELECT bucket, machine_id, rpm_avg, rpm_max, rpm_min, feed_avg, feed_max, feed_min,
	state_mode, sample_count, uptime_ratio
FROM %s
WHERE machine_id = $1
	AND bucket >= $2
	AND bucket <= $3
ORDER BY bucket DESC%s`, table, limitClause(limit))
	case telemetry.Resolution1h:
		query = fmt.Sprintf(`
SELECT bucket, machine_id, rpm_avg, rpm_max, NULL::double precision, feed_avg,
	NULL::double precision, NULL::double precision, NULL::text, sample_count, uptime_ratio
FROM %s
WHERE machine_id = $1
	AND bucket >= $2
	AND bucket <= $3
ORDER BY bucket DESC%s`, table, limitClause(limit))
	case telemetry.Resolution1d:
		query = fmt.Sprintf(`
SELECT date::timestamptz, machine_id, rpm_avg, rpm_max, NULL::double precision, feed_avg,
	NULL::double precision, NULL::double precision, NULL::text, sample_count, availability
FROM %s
WHERE machine_id = $1
	AND date >= ($2 AT TIME ZONE 'UTC')::date
	AND date <= ($3 AT TIME ZONE 'UTC')::date
ORDER BY date DESC%s`, table, limitClause(limit))
	default:
		return nil, fmt.Errorf("%w: %q is not a bucket resolution", telemetry.ErrInvalidArgument, res)
	}

	rows, err := q.db.QueryContext(ctx, query, machineID, from.UTC(), to.UTC())
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]telemetry.Bucket, 0)
	for rows.Next() {
		var (
			b                       telemetry.Bucket
			rpmAvg, feedAvg, uptime sql.NullFloat64
			rpmMax, rpmMin          sql.NullFloat64
			feedMax, feedMin        sql.NullFloat64
			stateMode               sql.NullString
			sampleCount             sql.NullInt64
		)
		if err := rows.Scan(
			&b.Start, &b.MachineID, &rpmAvg, &rpmMax, &rpmMin, &feedAvg,
			&feedMax, &feedMin, &stateMode, &sampleCount, &uptime,
		); err != nil {
			return nil, err
		}
		b.Start = b.Start.UTC()
		b.RPMAvg = rpmAvg.Float64
		b.FeedAvg = feedAvg.Float64
		b.RPMMax = floatPtr(rpmMax)
		b.RPMMin = floatPtr(rpmMin)
		b.FeedMax = floatPtr(feedMax)
		b.FeedMin = floatPtr(feedMin)
		b.DominantState = telemetry.State(stateMode.String)
		b.SampleCount = int(sampleCount.Int64)
		b.UptimeRatio = uptime.Float64
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AggregateCounts returns OEE counts within [from, to).
func (q *SampleQuery) AggregateCounts(ctx context.Context, machineID string, from, to time.Time) (telemetry.Counts, error) {
	if err := q.ready(); err != nil {
		return telemetry.Counts{}, err
	}
	query := fmt.Sprintf(`
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN state = 'running' THEN 1 ELSE 0 END), 0),
	AVG(CASE WHEN state = 'running' THEN rpm END),
	MAX(rpm)
FROM %s
WHERE machine_id = $1
	AND ts >= $2
	AND ts < $3`, q.table)

	var (
		counts       telemetry.Counts
		total        int64
		running      int64
		avgRPM, maxR sql.NullFloat64
	)
	if err := q.db.QueryRowContext(ctx, query, machineID, from.UTC(), to.UTC()).Scan(&total, &running, &avgRPM, &maxR); err != nil {
		return telemetry.Counts{}, mapError(err)
	}
	counts.Total = int(total)
	counts.Running = int(running)
	counts.AvgRPMRunning = avgRPM.Float64
	counts.MaxRPM = maxR.Float64
	return counts, nil
}

// DistinctActiveMachines lists machines with a sample at or after since.
func (q *SampleQuery) DistinctActiveMachines(ctx context.Context, since time.Time) ([]string, error) {
	if err := q.ready(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT DISTINCT machine_id
FROM %s
WHERE ts >= $1
ORDER BY machine_id ASC`, q.table)

	rows, err := q.db.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var machineID string
		if err := rows.Scan(&machineID); err != nil {
			return nil, err
		}
		out = append(out, machineID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Summarize computes descriptive statistics over [from, to].
func (q *SampleQuery) Summarize(ctx context.Context, machineID string, from, to time.Time) (telemetry.Summary, error) {
	if err := q.ready(); err != nil {
		return telemetry.Summary{}, err
	}
	query := fmt.Sprintf(`
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN state = 'running' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN state = 'stopped' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN state = 'idle' THEN 1 ELSE 0 END), 0),
	AVG(rpm),
	MAX(rpm),
	MIN(rpm),
	AVG(feed_mm_min),
	MAX(feed_mm_min)
FROM %s
WHERE machine_id = $1
	AND ts >= $2
	AND ts <= $3`, q.table)

	var (
		total, running, stopped, idle int64
		avgRPM, maxRPM, minRPM        sql.NullFloat64
		avgFeed, maxFeed              sql.NullFloat64
	)
	if err := q.db.QueryRowContext(ctx, query, machineID, from.UTC(), to.UTC()).Scan(
		&total, &running, &stopped, &idle, &avgRPM, &maxRPM, &minRPM, &avgFeed, &maxFeed,
	); err != nil {
		return telemetry.Summary{}, mapError(err)
	}
	return telemetry.Summary{
		Total:   int(total),
		Running: int(running),
		Stopped: int(stopped),
		Idle:    int(idle),
		AvgRPM:  avgRPM.Float64,
		MaxRPM:  maxRPM.Float64,
		MinRPM:  minRPM.Float64,
		AvgFeed: avgFeed.Float64,
		MaxFeed: maxFeed.Float64,
	}, nil
}

func floatPtr(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	v := value.Float64
	return &v
}
