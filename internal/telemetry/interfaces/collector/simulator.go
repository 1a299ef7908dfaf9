package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

// Phase boundaries of the simulated machining cycle, in ticks.
const (
	simIdleUntil    = 10
	simRunningUntil = 200
	simStoppedUntil = 220
	simCycleLength  = 300

	simRunningRPM  = 3500.0
	simRunningFeed = 1200.0
)

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Simulator produces a deterministic machining cycle for one machine.
type Simulator struct {
	machineID string
	clock     Clock

	mu   sync.Mutex
	tick int
	seq  int64
}

// NewSimulator constructs a simulator source.
func NewSimulator(machineID string, clock Clock) (*Simulator, error) {
	if !telemetry.ValidMachineID(machineID) {
		return nil, errors.New("collector: invalid simulator machine id")
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Simulator{machineID: machineID, clock: clock}, nil
}

// Read advances one tick and returns the snapshot for it.
func (s *Simulator) Read(ctx context.Context) (telemetry.Sample, error) {
	if err := ctx.Err(); err != nil {
		return telemetry.Sample{}, err
	}
	s.mu.Lock()
	s.tick++
	state := simulatedState(s.tick)
	if s.tick > simCycleLength {
		s.tick = 0
	}
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	sample := telemetry.Sample{
		MachineID: s.machineID,
		Timestamp: s.clock.Now().UTC(),
		State:     state,
		Sequence:  &seq,
	}
	if state == telemetry.StateRunning {
		sample.RPM = simRunningRPM
		sample.FeedRate = simRunningFeed
	}
	return sample, nil
}

func simulatedState(tick int) telemetry.State {
	switch {
	case tick < simIdleUntil:
		return telemetry.StateIdle
	case tick < simRunningUntil:
		return telemetry.StateRunning
	case tick < simStoppedUntil:
		return telemetry.StateStopped
	default:
		return telemetry.StateIdle
	}
}
