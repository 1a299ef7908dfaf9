package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	oee "github.com/Viniciusjohn/cnc-telemetry/internal/oee/domain"
	"github.com/Viniciusjohn/cnc-telemetry/internal/observability/metrics"
	"github.com/Viniciusjohn/cnc-telemetry/internal/observability/tracing"
	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

const (
	// DefaultProgrammedRPM is the reference spindle speed for performance.
	DefaultProgrammedRPM = 4500.0
	// DefaultSampleInterval is the nominal spacing between samples.
	DefaultSampleInterval = 2 * time.Second
	// MinSampleInterval is the floor applied to configured intervals.
	MinSampleInterval = 100 * time.Millisecond
	// MaxTrendDays bounds a trend request.
	MaxTrendDays = 366
)

// CountsReader is the sample store view the calculator needs.
type CountsReader interface {
	AggregateCounts(ctx context.Context, machineID string, from, to time.Time) (telemetry.Counts, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Calculator computes OEE results from aggregated sample counts.
type Calculator struct {
	reader CountsReader
	params oee.Params
	clock  Clock
	logger *log.Logger
	tracer trace.Tracer
}

// Option customizes the calculator.
type Option func(*Calculator)

// WithProgrammedRPM overrides the reference spindle speed.
func WithProgrammedRPM(rpm float64) Option {
	return func(c *Calculator) {
		if rpm > 0 {
			c.params.ProgrammedRPM = rpm
		}
	}
}

// WithSampleInterval overrides the sample interval, floored at MinSampleInterval.
func WithSampleInterval(interval time.Duration) Option {
	return func(c *Calculator) {
		if interval > 0 {
			c.params.SampleInterval = max(interval, MinSampleInterval)
		}
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(c *Calculator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Calculator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCalculator constructs a calculator.
func NewCalculator(reader CountsReader, opts ...Option) (*Calculator, error) {
	if reader == nil {
		return nil, errors.New("oee: nil counts reader")
	}
	c := &Calculator{
		reader: reader,
		params: oee.Params{SampleInterval: DefaultSampleInterval, ProgrammedRPM: DefaultProgrammedRPM},
		clock:  systemClock{},
		logger: log.Default(),
		tracer: tracing.Tracer("oee/calculator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Today returns the current UTC date.
func (c *Calculator) Today() time.Time {
	now := c.clock.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// Compute returns the OEE of machineID for shift on date.
func (c *Calculator) Compute(ctx context.Context, machineID string, date time.Time, shift oee.Shift) (oee.Result, error) {
	started := time.Now()
	ctx, span := c.tracer.Start(ctx, "oee.compute", trace.WithAttributes(
		attribute.String("machine_id", machineID),
		attribute.String("shift", string(shift)),
		attribute.String("date", date.Format(oee.DateLayout)),
	))
	defer span.End()

	if machineID == "" {
		return oee.Result{}, fmt.Errorf("%w: machine_id required", oee.ErrInvalidArgument)
	}
	window, err := oee.ShiftWindow(shift, date)
	if err != nil {
		return oee.Result{}, err
	}

	counts, err := c.reader.AggregateCounts(ctx, machineID, window.Start, window.End)
	if err != nil {
		if errors.Is(err, telemetry.ErrDataUnavailable) {
			c.logger.Printf("oee: dataset unavailable: machine=%s shift=%s err=%v", machineID, shift, err)
			metrics.ObserveOEE(string(shift), metrics.ResultEmpty, time.Since(started))
			return oee.Empty(machineID, date, shift, window), nil
		}
		span.RecordError(err)
		metrics.ObserveOEE(string(shift), metrics.ResultError, time.Since(started))
		return oee.Result{}, err
	}

	result := oee.Calculate(machineID, date, shift, window, oee.Counts{
		Total:         counts.Total,
		Running:       counts.Running,
		AvgRPMRunning: counts.AvgRPMRunning,
		MaxRPM:        counts.MaxRPM,
	}, c.params)
	span.SetAttributes(attribute.Float64("oee", result.OEE), attribute.Int("samples", counts.Total))
	metrics.ObserveOEE(string(shift), metrics.ResultSuccess, time.Since(started))
	return result, nil
}

// Trend returns one result per calendar day in [from, to].
func (c *Calculator) Trend(ctx context.Context, machineID string, from, to time.Time, shift oee.Shift) ([]oee.Result, error) {
	from = dateOf(from)
	to = dateOf(to)
	if from.After(to) {
		return nil, fmt.Errorf("%w: from_date must not be after to_date", oee.ErrInvalidArgument)
	}
	days := int(to.Sub(from).Hours()/24) + 1
	if days > MaxTrendDays {
		return nil, fmt.Errorf("%w: range of %d days exceeds %d", oee.ErrInvalidArgument, days, MaxTrendDays)
	}

	out := make([]oee.Result, 0, days)
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		result, err := c.Compute(ctx, machineID, day, shift)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, nil
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
