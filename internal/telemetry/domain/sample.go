package telemetry

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// State is the normalized execution state of a machine.
type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateIdle    State = "idle"
)

// Ingest limits for a single sample.
const (
	MaxRPM      = 30000.0
	MaxFeedRate = 10000.0
)

var machineIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// ParseState normalizes a state label.
func ParseState(value string) (State, error) {
	state := State(strings.ToLower(strings.TrimSpace(value)))
	if !state.Valid() {
		return "", fmt.Errorf("%w: unknown state %q", ErrInvalidArgument, value)
	}
	return state, nil
}

// Valid reports whether the state is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateRunning, StateStopped, StateIdle:
		return true
	default:
		return false
	}
}

// ValidMachineID reports whether id is an acceptable machine identifier.
func ValidMachineID(id string) bool {
	return machineIDPattern.MatchString(id)
}

// Sample is one telemetry reading, unique per (MachineID, Timestamp).
type Sample struct {
	MachineID string
	Timestamp time.Time
	RPM       float64
	FeedRate  float64
	State     State
	Sequence  *int64
}

// Validate checks ingest constraints.
func (s Sample) Validate() error {
	if !ValidMachineID(s.MachineID) {
		return fmt.Errorf("%w: machine_id %q", ErrInvalidArgument, s.MachineID)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp required", ErrInvalidArgument)
	}
	if s.RPM < 0 || s.RPM > MaxRPM {
		return fmt.Errorf("%w: rpm %.1f out of range", ErrInvalidArgument, s.RPM)
	}
	if s.FeedRate < 0 || s.FeedRate > MaxFeedRate {
		return fmt.Errorf("%w: feed_rate %.1f out of range", ErrInvalidArgument, s.FeedRate)
	}
	if !s.State.Valid() {
		return fmt.Errorf("%w: state %q", ErrInvalidArgument, s.State)
	}
	return nil
}

// LiveStatus is the latest known state of a machine.
type LiveStatus struct {
	MachineID string    `json:"machine_id"`
	RPM       float64   `json:"rpm"`
	FeedRate  float64   `json:"feed_rate"`
	State     State     `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultStatus is reported for machines that never sent a sample.
func DefaultStatus(machineID string, now time.Time) LiveStatus {
	return LiveStatus{
		MachineID: machineID,
		State:     StateIdle,
		UpdatedAt: now.UTC(),
	}
}

// StatusFromSample converts a sample into a live status entry.
func StatusFromSample(s Sample) LiveStatus {
	return LiveStatus{
		MachineID: s.MachineID,
		RPM:       s.RPM,
		FeedRate:  s.FeedRate,
		State:     s.State,
		UpdatedAt: s.Timestamp.UTC(),
	}
}
