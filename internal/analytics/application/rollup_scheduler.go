package application

import (
	"context"
	"log"
	"sync"
	"time"

	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

const (
	// DefaultRollupInterval is how often the scheduler looks for closed windows.
	DefaultRollupInterval = time.Minute
	// DefaultRollupLag delays closing a window so late samples land first.
	DefaultRollupLag = 30 * time.Second
	// RollupWorkerName identifies the scheduler in worker health.
	RollupWorkerName = "rollup"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Roller closes one window.
type Roller interface {
	Rollup(ctx context.Context, res telemetry.Resolution, windowStart time.Time) (WindowResult, error)
}

// HealthRecorder tracks worker outcomes.
type HealthRecorder interface {
	Success(name string)
	Failure(name string, err error)
}

// RollupScheduler closes the most recently finished window of each resolution.
type RollupScheduler struct {
	roller      Roller
	resolutions []telemetry.Resolution
	interval    time.Duration
	lag         time.Duration
	clock       Clock
	health      HealthRecorder
	logger      *log.Logger

	mu     sync.Mutex
	closed map[telemetry.Resolution]time.Time
}

// NewRollupScheduler constructs a scheduler over the bucket resolutions.
func NewRollupScheduler(roller Roller, interval, lag time.Duration, clock Clock, health HealthRecorder, logger *log.Logger) *RollupScheduler {
	if interval <= 0 {
		interval = DefaultRollupInterval
	}
	if lag < 0 {
		lag = DefaultRollupLag
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &RollupScheduler{
		roller:      roller,
		resolutions: telemetry.BucketResolutions,
		interval:    interval,
		lag:         lag,
		clock:       clock,
		health:      health,
		logger:      logger,
		closed:      make(map[telemetry.Resolution]time.Time),
	}
}

// Start runs until ctx is done.
func (s *RollupScheduler) Start(ctx context.Context) {
	if s == nil || s.roller == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick closes every window that finished since the previous tick.
func (s *RollupScheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := s.clock.Now().UTC().Add(-s.lag)
	var failed error
	for _, res := range s.resolutions {
		windowStart := res.Truncate(ref).Add(-res.Span())
		if last, ok := s.closed[res]; ok && !windowStart.After(last) {
			continue
		}
		if _, err := s.roller.Rollup(ctx, res, windowStart); err != nil {
			if ctx.Err() == nil {
				s.logger.Printf("rollup: scheduled window failed: resolution=%s start=%s err=%v",
					res, windowStart.Format(time.RFC3339), err)
			}
			failed = err
			continue
		}
		s.closed[res] = windowStart
	}
	if s.health == nil {
		return
	}
	if failed != nil {
		s.health.Failure(RollupWorkerName, failed)
		return
	}
	s.health.Success(RollupWorkerName)
}
