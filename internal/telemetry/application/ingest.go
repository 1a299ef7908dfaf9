package application

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/Viniciusjohn/cnc-telemetry/internal/observability/metrics"
	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

// StatusSink receives the latest status of ingested machines.
type StatusSink interface {
	Update(status telemetry.LiveStatus) bool
}

// IngestService validates and stores samples, then refreshes live status.
type IngestService struct {
	writer telemetry.SampleWriter
	status StatusSink
	logger *log.Logger
}

// NewIngestService constructs an ingest service.
func NewIngestService(writer telemetry.SampleWriter, status StatusSink, logger *log.Logger) (*IngestService, error) {
	if writer == nil {
		return nil, errors.New("ingest: nil sample writer")
	}
	if status == nil {
		return nil, errors.New("ingest: nil status sink")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestService{writer: writer, status: status, logger: logger}, nil
}

// Ingest stores one sample.
func (s *IngestService) Ingest(ctx context.Context, sample telemetry.Sample) error {
	return s.IngestBatch(ctx, []telemetry.Sample{sample})
}

// IngestBatch stores samples; nothing is written when any sample
// fails validation. The caller's slice is left untouched.
func (s *IngestService) IngestBatch(ctx context.Context, batch []telemetry.Sample) error {
	started := time.Now()
	if len(batch) == 0 {
		return nil
	}
	samples := make([]telemetry.Sample, len(batch))
	for i, sample := range batch {
		sample.Timestamp = sample.Timestamp.UTC()
		samples[i] = sample
		if err := sample.Validate(); err != nil {
			metrics.IncIngestError("validation")
			metrics.ObserveIngest(metrics.ResultError, time.Since(started))
			return err
		}
	}
	if err := s.writer.UpsertSamples(ctx, samples); err != nil {
		s.logger.Printf("ingest: upsert failed: samples=%d err=%v", len(samples), err)
		metrics.IncIngestError("store")
		metrics.ObserveIngest(metrics.ResultError, time.Since(started))
		return err
	}
	for _, sample := range samples {
		s.status.Update(telemetry.StatusFromSample(sample))
	}
	metrics.ObserveIngest(metrics.ResultSuccess, time.Since(started))
	return nil
}
