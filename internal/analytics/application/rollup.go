package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Viniciusjohn/cnc-telemetry/internal/observability/metrics"
	"github.com/Viniciusjohn/cnc-telemetry/internal/observability/tracing"
	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

// ErrInvalidWindow is returned for unknown resolutions or zero window starts.
var ErrInvalidWindow = errors.New("analytics: invalid rollup window")

// SampleSource reads the raw samples a window is built from.
type SampleSource interface {
	DistinctActiveMachines(ctx context.Context, since time.Time) ([]string, error)
	QuerySamples(ctx context.Context, machineID string, from, to time.Time, limit int) ([]telemetry.Sample, error)
}

// WindowResult summarizes one closed window.
type WindowResult struct {
	Resolution  telemetry.Resolution `json:"resolution"`
	WindowStart time.Time            `json:"window_start"`
	WindowEnd   time.Time            `json:"window_end"`
	Machines    int                  `json:"machines"`
	Buckets     int                  `json:"buckets"`
}

// RollupService folds raw samples into pre-aggregated buckets.
type RollupService struct {
	samples SampleSource
	buckets telemetry.BucketWriter
	logger  *log.Logger
}

// NewRollupService constructs a rollup service.
func NewRollupService(samples SampleSource, buckets telemetry.BucketWriter, logger *log.Logger) (*RollupService, error) {
	if samples == nil {
		return nil, errors.New("rollup: nil sample source")
	}
	if buckets == nil {
		return nil, errors.New("rollup: nil bucket writer")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &RollupService{samples: samples, buckets: buckets, logger: logger}, nil
}

// Rollup writes one bucket per machine with samples in
// [windowStart, windowStart+span). windowStart is aligned to the resolution.
func (s *RollupService) Rollup(ctx context.Context, res telemetry.Resolution, windowStart time.Time) (WindowResult, error) {
	started := time.Now()
	width := res.Span()
	if width == 0 || windowStart.IsZero() {
		return WindowResult{}, fmt.Errorf("%w: resolution=%q", ErrInvalidWindow, res)
	}
	start := res.Truncate(windowStart)
	end := start.Add(width)
	result := WindowResult{Resolution: res, WindowStart: start, WindowEnd: end}

	ctx, span := tracing.Tracer("analytics/rollup").Start(ctx, "rollup.window")
	defer span.End()
	span.SetAttributes(
		attribute.String("rollup.resolution", string(res)),
		attribute.String("rollup.window_start", start.Format(time.RFC3339)),
	)

	machines, err := s.samples.DistinctActiveMachines(ctx, start)
	if err != nil {
		metrics.ObserveRollupWindow(string(res), metrics.ResultError, time.Since(started))
		return result, fmt.Errorf("rollup: active machines: %w", err)
	}
	result.Machines = len(machines)

	for _, machineID := range machines {
		samples, err := s.samples.QuerySamples(ctx, machineID, start, end, 0)
		if errors.Is(err, telemetry.ErrDataUnavailable) {
			continue
		}
		if err != nil {
			metrics.ObserveRollupWindow(string(res), metrics.ResultError, time.Since(started))
			return result, fmt.Errorf("rollup: query samples machine=%s: %w", machineID, err)
		}
		samples = halfOpen(samples, end)
		bucket, ok := telemetry.BuildBucket(machineID, start, samples)
		if !ok {
			continue
		}
		if err := s.buckets.UpsertBucket(ctx, res, bucket); err != nil {
			metrics.ObserveRollupWindow(string(res), metrics.ResultError, time.Since(started))
			return result, fmt.Errorf("rollup: upsert bucket machine=%s: %w", machineID, err)
		}
		result.Buckets++
	}

	outcome := metrics.ResultSuccess
	if result.Buckets == 0 {
		outcome = metrics.ResultEmpty
	}
	duration := time.Since(started)
	metrics.ObserveRollupWindow(string(res), outcome, duration)
	s.logger.Printf("rollup: window closed: resolution=%s start=%s machines=%d buckets=%d duration_ms=%d",
		res, start.Format(time.RFC3339), result.Machines, result.Buckets, duration.Milliseconds())
	return result, nil
}

// halfOpen drops samples at the exclusive window end; reader ranges are inclusive.
func halfOpen(samples []telemetry.Sample, end time.Time) []telemetry.Sample {
	out := samples[:0:0]
	for _, sample := range samples {
		if sample.Timestamp.Before(end) {
			out = append(out, sample)
		}
	}
	return out
}
