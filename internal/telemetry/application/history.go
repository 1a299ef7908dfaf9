package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Viniciusjohn/cnc-telemetry/internal/observability/metrics"
	"github.com/Viniciusjohn/cnc-telemetry/internal/observability/tracing"
	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

const (
	// DefaultHistoryLimit caps raw, 5m and 1h history rows.
	DefaultHistoryLimit = 10000
	// DefaultSampleInterval is the nominal spacing between samples.
	DefaultSampleInterval = 2 * time.Second
	defaultHistoryWindow  = time.Hour
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// HistoryService resolves history queries against the sample store.
type HistoryService struct {
	reader         telemetry.SampleReader
	clock          Clock
	logger         *log.Logger
	tracer         trace.Tracer
	sampleInterval time.Duration
}

// HistoryOption customizes the history service.
type HistoryOption func(*HistoryService)

// WithHistoryClock assigns a clock.
func WithHistoryClock(clock Clock) HistoryOption {
	return func(s *HistoryService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithHistoryLogger assigns a logger.
func WithHistoryLogger(logger *log.Logger) HistoryOption {
	return func(s *HistoryService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSampleInterval sets the interval used to turn sample counts into minutes.
func WithSampleInterval(interval time.Duration) HistoryOption {
	return func(s *HistoryService) {
		if interval > 0 {
			s.sampleInterval = interval
		}
	}
}

// NewHistoryService constructs a history service.
func NewHistoryService(reader telemetry.SampleReader, opts ...HistoryOption) (*HistoryService, error) {
	if reader == nil {
		return nil, errors.New("history: nil sample reader")
	}
	s := &HistoryService{
		reader:         reader,
		clock:          systemClock{},
		logger:         log.Default(),
		tracer:         tracing.Tracer("telemetry/history"),
		sampleInterval: DefaultSampleInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Resolve returns rows of one resolution within [from, to], newest first.
// Zero bounds default to the trailing hour ending now. A non-positive limit
// means DefaultHistoryLimit; the 1d resolution is never capped.
func (s *HistoryService) Resolve(ctx context.Context, machineID string, from, to time.Time, res telemetry.Resolution, limit int) ([]telemetry.Record, error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "history.resolve", trace.WithAttributes(
		attribute.String("machine_id", machineID),
		attribute.String("resolution", string(res)),
	))
	defer span.End()

	if machineID == "" {
		return nil, fmt.Errorf("%w: machine_id required", telemetry.ErrInvalidArgument)
	}
	if _, err := telemetry.ParseResolution(string(res)); err != nil {
		return nil, err
	}
	from, to = s.window(from, to)
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", telemetry.ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var (
		records []telemetry.Record
		err     error
	)
	if res == telemetry.ResolutionRaw {
		var samples []telemetry.Sample
		samples, err = s.reader.QuerySamples(ctx, machineID, from, to, limit)
		for _, sample := range samples {
			records = append(records, telemetry.RecordFromSample(sample))
		}
	} else {
		if !res.Capped() {
			limit = 0
		}
		var buckets []telemetry.Bucket
		buckets, err = s.reader.QueryBuckets(ctx, machineID, res, from, to, limit)
		for _, bucket := range buckets {
			records = append(records, telemetry.RecordFromBucket(bucket))
		}
	}
	if err != nil {
		if errors.Is(err, telemetry.ErrDataUnavailable) {
			s.logger.Printf("history: dataset unavailable: machine=%s resolution=%s err=%v", machineID, res, err)
			metrics.ObserveHistory(string(res), metrics.ResultEmpty, time.Since(started))
			return []telemetry.Record{}, nil
		}
		span.RecordError(err)
		metrics.ObserveHistory(string(res), metrics.ResultError, time.Since(started))
		return nil, err
	}
	if records == nil {
		records = []telemetry.Record{}
	}
	span.SetAttributes(attribute.Int("rows", len(records)))
	metrics.ObserveHistory(string(res), metrics.ResultSuccess, time.Since(started))
	return records, nil
}

func (s *HistoryService) window(from, to time.Time) (time.Time, time.Time) {
	if to.IsZero() {
		to = s.clock.Now()
	}
	if from.IsZero() {
		from = to.Add(-defaultHistoryWindow)
	}
	return from.UTC(), to.UTC()
}

// RPMStats are descriptive spindle statistics.
type RPMStats struct {
	Avg float64 `json:"avg"`
	Max float64 `json:"max"`
	Min float64 `json:"min"`
}

// FeedStats are descriptive feed statistics.
type FeedStats struct {
	Avg float64 `json:"avg"`
	Max float64 `json:"max"`
}

// SummaryStatistics groups rpm and feed statistics.
type SummaryStatistics struct {
	RPM  RPMStats  `json:"rpm"`
	Feed FeedStats `json:"feed_rate"`
}

// TimeDistribution converts sample counts to minutes.
type TimeDistribution struct {
	TotalMin    float64 `json:"total_min"`
	RunningMin  float64 `json:"running_min"`
	StoppedMin  float64 `json:"stopped_min"`
	IdleMin     float64 `json:"idle_min"`
	UptimeRatio float64 `json:"uptime_ratio"`
}

// SampleDistribution counts samples per state.
type SampleDistribution struct {
	Running int `json:"running"`
	Stopped int `json:"stopped"`
	Idle    int `json:"idle"`
}

// HistorySummary is the period summary of one machine.
type HistorySummary struct {
	MachineID          string              `json:"machine_id"`
	From               time.Time           `json:"from_ts"`
	To                 time.Time           `json:"to_ts"`
	Found              bool                `json:"found"`
	Message            string              `json:"message,omitempty"`
	TotalSamples       int                 `json:"total_samples"`
	Statistics         *SummaryStatistics  `json:"statistics,omitempty"`
	TimeDistribution   *TimeDistribution   `json:"time_distribution,omitempty"`
	SampleDistribution *SampleDistribution `json:"sample_distribution,omitempty"`
}

// Summary computes statistics over raw samples in [from, to].
func (s *HistoryService) Summary(ctx context.Context, machineID string, from, to time.Time) (HistorySummary, error) {
	ctx, span := s.tracer.Start(ctx, "history.summary", trace.WithAttributes(
		attribute.String("machine_id", machineID),
	))
	defer span.End()

	if machineID == "" {
		return HistorySummary{}, fmt.Errorf("%w: machine_id required", telemetry.ErrInvalidArgument)
	}
	from, to = s.window(from, to)
	if !from.Before(to) {
		return HistorySummary{}, fmt.Errorf("%w: from must be before to", telemetry.ErrInvalidArgument)
	}

	out := HistorySummary{MachineID: machineID, From: from, To: to}
	sum, err := s.reader.Summarize(ctx, machineID, from, to)
	if err != nil && !errors.Is(err, telemetry.ErrDataUnavailable) {
		span.RecordError(err)
		return HistorySummary{}, err
	}
	if err != nil || sum.Total == 0 {
		if err != nil {
			s.logger.Printf("history: summary dataset unavailable: machine=%s err=%v", machineID, err)
		}
		out.Message = "No data found for this period"
		return out, nil
	}

	minutes := func(count int) float64 {
		return telemetry.Round(float64(count)*s.sampleInterval.Seconds()/60, 1)
	}
	out.Found = true
	out.TotalSamples = sum.Total
	out.Statistics = &SummaryStatistics{
		RPM: RPMStats{
			Avg: telemetry.Round(sum.AvgRPM, 1),
			Max: telemetry.Round(sum.MaxRPM, 1),
			Min: telemetry.Round(sum.MinRPM, 1),
		},
		Feed: FeedStats{
			Avg: telemetry.Round(sum.AvgFeed, 1),
			Max: telemetry.Round(sum.MaxFeed, 1),
		},
	}
	out.TimeDistribution = &TimeDistribution{
		TotalMin:    minutes(sum.Total),
		RunningMin:  minutes(sum.Running),
		StoppedMin:  minutes(sum.Stopped),
		IdleMin:     minutes(sum.Idle),
		UptimeRatio: telemetry.Round(float64(sum.Running)/float64(sum.Total), 4),
	}
	out.SampleDistribution = &SampleDistribution{
		Running: sum.Running,
		Stopped: sum.Stopped,
		Idle:    sum.Idle,
	}
	return out, nil
}
