package application

import (
	"context"
	"log"
	"time"
)

const (
	// DefaultCycleInterval is the spacing between scheduled cycles.
	DefaultCycleInterval = 30 * time.Second
	// WorkerName identifies the scheduler in worker health.
	WorkerName = "alert_engine"
)

// Cycler runs one evaluation cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (CycleResult, error)
}

// HealthRecorder tracks worker outcomes.
type HealthRecorder interface {
	Success(name string)
	Failure(name string, err error)
}

// Scheduler triggers alert cycles on a fixed interval.
type Scheduler struct {
	engine   Cycler
	interval time.Duration
	health   HealthRecorder
	logger   *log.Logger
}

// NewScheduler constructs a Scheduler.
func NewScheduler(engine Cycler, interval time.Duration, health HealthRecorder, logger *log.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultCycleInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		health:   health,
		logger:   logger,
	}
}

// Start runs cycles until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.engine == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.engine.RunCycle(ctx); err != nil {
		if ctx.Err() == nil {
			s.logger.Printf("alarms: scheduled cycle error: err=%v", err)
		}
		if s.health != nil {
			s.health.Failure(WorkerName, err)
		}
		return
	}
	if s.health != nil {
		s.health.Success(WorkerName)
	}
}
