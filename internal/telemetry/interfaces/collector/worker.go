package collector

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/Viniciusjohn/cnc-telemetry/internal/observability/metrics"
	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

const (
	// DefaultInterval is the spacing between source reads.
	DefaultInterval = 2 * time.Second
	// WorkerName identifies the collector in worker health.
	WorkerName = "collector"
)

// ErrNoSnapshot is returned by sources that have not received data yet.
var ErrNoSnapshot = errors.New("collector: no snapshot available")

// Source yields the current snapshot of one machine.
type Source interface {
	Read(ctx context.Context) (telemetry.Sample, error)
}

// Ingester stores collected samples.
type Ingester interface {
	Ingest(ctx context.Context, sample telemetry.Sample) error
}

// HealthRecorder tracks worker outcomes.
type HealthRecorder interface {
	Success(name string)
	Failure(name string, err error)
}

// Option configures a Worker.
type Option func(*Worker)

// WithInterval overrides the poll interval.
func WithInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithHealth reports every poll to the given recorder.
func WithHealth(health HealthRecorder) Option {
	return func(w *Worker) {
		w.health = health
	}
}

// WithLogger sets the worker logger.
func WithLogger(logger *log.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Worker polls a source and ingests each snapshot.
type Worker struct {
	name     string
	source   Source
	ingest   Ingester
	interval time.Duration
	health   HealthRecorder
	logger   *log.Logger
}

// NewWorker constructs a collector worker. name labels metrics.
func NewWorker(name string, source Source, ingest Ingester, opts ...Option) (*Worker, error) {
	if source == nil {
		return nil, errors.New("collector: nil source")
	}
	if ingest == nil {
		return nil, errors.New("collector: nil ingester")
	}
	if name == "" {
		name = "unknown"
	}
	w := &Worker{
		name:     name,
		source:   source,
		ingest:   ingest,
		interval: DefaultInterval,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start polls until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = w.Poll(ctx)
		}
	}
}

// Poll reads and ingests one snapshot.
func (w *Worker) Poll(ctx context.Context) error {
	sample, err := w.source.Read(ctx)
	if err == nil {
		err = w.ingest.Ingest(ctx, sample)
	}
	if err != nil {
		metrics.IncCollectorSnapshot(w.name, metrics.ResultError)
		if ctx.Err() == nil {
			w.logger.Printf("collector: poll failed: source=%s err=%v", w.name, err)
		}
		if w.health != nil {
			w.health.Failure(WorkerName, err)
		}
		return err
	}
	metrics.IncCollectorSnapshot(w.name, metrics.ResultSuccess)
	if w.health != nil {
		w.health.Success(WorkerName)
	}
	return nil
}
