package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// Resolution is a history granularity tier.
type Resolution string

const (
	ResolutionRaw Resolution = "raw"
	Resolution5m  Resolution = "5m"
	Resolution1h  Resolution = "1h"
	Resolution1d  Resolution = "1d"
)

// BucketResolutions lists the pre-aggregated tiers.
var BucketResolutions = []Resolution{Resolution5m, Resolution1h, Resolution1d}

// ParseResolution validates a resolution label.
func ParseResolution(value string) (Resolution, error) {
	res := Resolution(strings.TrimSpace(value))
	switch res {
	case ResolutionRaw, Resolution5m, Resolution1h, Resolution1d:
		return res, nil
	default:
		return "", fmt.Errorf("%w: resolution %q must be one of raw, 5m, 1h, 1d", ErrInvalidArgument, value)
	}
}

// Span returns the bucket width, zero for raw.
func (r Resolution) Span() time.Duration {
	switch r {
	case Resolution5m:
		return 5 * time.Minute
	case Resolution1h:
		return time.Hour
	case Resolution1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Capped reports whether row limits apply to the resolution.
func (r Resolution) Capped() bool {
	return r != Resolution1d
}

// Truncate returns the start of the bucket containing t.
func (r Resolution) Truncate(t time.Time) time.Time {
	t = t.UTC()
	if r == Resolution1d {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	if span := r.Span(); span > 0 {
		return t.Truncate(span)
	}
	return t
}

// Bucket is a pre-aggregated window of samples. Optional statistics are nil
// when the backing dataset does not store them.
type Bucket struct {
	Start         time.Time
	MachineID     string
	RPMAvg        float64
	FeedAvg       float64
	RPMMax        *float64
	RPMMin        *float64
	FeedMax       *float64
	FeedMin       *float64
	DominantState State
	SampleCount   int
	UptimeRatio   float64
}

// BuildBucket folds samples of one machine into a bucket starting at start.
// It reports false when samples is empty.
func BuildBucket(machineID string, start time.Time, samples []Sample) (Bucket, bool) {
	if len(samples) == 0 {
		return Bucket{}, false
	}
	var (
		rpmSum, feedSum  float64
		rpmMax, rpmMin   = samples[0].RPM, samples[0].RPM
		feedMax, feedMin = samples[0].FeedRate, samples[0].FeedRate
		counts           = make(map[State]int, 3)
	)
	for _, s := range samples {
		rpmSum += s.RPM
		feedSum += s.FeedRate
		rpmMax = max(rpmMax, s.RPM)
		rpmMin = min(rpmMin, s.RPM)
		feedMax = max(feedMax, s.FeedRate)
		feedMin = min(feedMin, s.FeedRate)
		counts[s.State]++
	}
	n := float64(len(samples))
	return Bucket{
		Start:         start.UTC(),
		MachineID:     machineID,
		RPMAvg:        rpmSum / n,
		FeedAvg:       feedSum / n,
		RPMMax:        &rpmMax,
		RPMMin:        &rpmMin,
		FeedMax:       &feedMax,
		FeedMin:       &feedMin,
		DominantState: dominantState(counts),
		SampleCount:   len(samples),
		UptimeRatio:   float64(counts[StateRunning]) / n,
	}, true
}

// dominantState picks the most frequent state; ties prefer running, then stopped.
func dominantState(counts map[State]int) State {
	best := StateIdle
	bestCount := -1
	for _, state := range []State{StateRunning, StateStopped, StateIdle} {
		if counts[state] > bestCount {
			best = state
			bestCount = counts[state]
		}
	}
	return best
}
