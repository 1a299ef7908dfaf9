package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

// Store is an in-memory sample store for demo/testing.
// It implements the sample reader, sample writer and bucket writer contracts.
type Store struct {
	mu      sync.RWMutex
	samples map[string]map[int64]telemetry.Sample
	buckets map[telemetry.Resolution]map[string]map[int64]telemetry.Bucket
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		samples: make(map[string]map[int64]telemetry.Sample),
		buckets: make(map[telemetry.Resolution]map[string]map[int64]telemetry.Bucket),
	}
}

// UpsertSamples stores samples, replacing any with the same machine and timestamp.
func (s *Store) UpsertSamples(ctx context.Context, samples []telemetry.Sample) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sample := range samples {
		if sample.MachineID == "" || sample.Timestamp.IsZero() {
			return errors.New("memory store: invalid sample")
		}
		byTime := s.samples[sample.MachineID]
		if byTime == nil {
			byTime = make(map[int64]telemetry.Sample)
			s.samples[sample.MachineID] = byTime
		}
		sample.Timestamp = sample.Timestamp.UTC()
		byTime[sample.Timestamp.UnixNano()] = sample
	}
	return nil
}

// UpsertBucket stores a bucket keyed by machine and start.
func (s *Store) UpsertBucket(ctx context.Context, res telemetry.Resolution, bucket telemetry.Bucket) error {
	_ = ctx
	if res.Span() == 0 {
		return errors.New("memory store: raw is not a bucket resolution")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byMachine := s.buckets[res]
	if byMachine == nil {
		byMachine = make(map[string]map[int64]telemetry.Bucket)
		s.buckets[res] = byMachine
	}
	byStart := byMachine[bucket.MachineID]
	if byStart == nil {
		byStart = make(map[int64]telemetry.Bucket)
		byMachine[bucket.MachineID] = byStart
	}
	bucket.Start = bucket.Start.UTC()
	byStart[bucket.Start.UnixNano()] = bucket
	return nil
}

// QuerySamples returns samples in [from, to], newest first.
func (s *Store) QuerySamples(ctx context.Context, machineID string, from, to time.Time, limit int) ([]telemetry.Sample, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]telemetry.Sample, 0)
	for _, sample := range s.samples[machineID] {
		if sample.Timestamp.Before(from) || sample.Timestamp.After(to) {
			continue
		}
		out = append(out, sample)
	}
	sortSamplesDesc(out)
	return capSamples(out, limit), nil
}

// QueryBuckets returns buckets in [from, to], newest first. Daily buckets
// compare on calendar dates.
func (s *Store) QueryBuckets(ctx context.Context, machineID string, res telemetry.Resolution, from, to time.Time, limit int) ([]telemetry.Bucket, error) {
	_ = ctx
	if res.Span() == 0 {
		return nil, telemetry.ErrInvalidArgument
	}
	if res == telemetry.Resolution1d {
		from = telemetry.Resolution1d.Truncate(from)
		to = telemetry.Resolution1d.Truncate(to)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]telemetry.Bucket, 0)
	for _, bucket := range s.buckets[res][machineID] {
		if bucket.Start.Before(from) || bucket.Start.After(to) {
			continue
		}
		out = append(out, bucket)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.After(out[j].Start) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AggregateCounts counts samples in [from, to).
func (s *Store) AggregateCounts(ctx context.Context, machineID string, from, to time.Time) (telemetry.Counts, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var counts telemetry.Counts
	var runningRPM float64
	for _, sample := range s.samples[machineID] {
		if sample.Timestamp.Before(from) || !sample.Timestamp.Before(to) {
			continue
		}
		counts.Total++
		counts.MaxRPM = max(counts.MaxRPM, sample.RPM)
		if sample.State == telemetry.StateRunning {
			counts.Running++
			runningRPM += sample.RPM
		}
	}
	if counts.Running > 0 {
		counts.AvgRPMRunning = runningRPM / float64(counts.Running)
	}
	return counts, nil
}

// DistinctActiveMachines lists machines with a sample at or after since.
func (s *Store) DistinctActiveMachines(ctx context.Context, since time.Time) ([]string, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.samples))
	for machineID, byTime := range s.samples {
		for _, sample := range byTime {
			if !sample.Timestamp.Before(since) {
				out = append(out, machineID)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// RecentSamples returns samples at or after since, newest first.
func (s *Store) RecentSamples(ctx context.Context, machineID string, since time.Time, limit int) ([]telemetry.Sample, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]telemetry.Sample, 0)
	for _, sample := range s.samples[machineID] {
		if sample.Timestamp.Before(since) {
			continue
		}
		out = append(out, sample)
	}
	sortSamplesDesc(out)
	return capSamples(out, limit), nil
}

// Summarize computes statistics over samples in [from, to].
func (s *Store) Summarize(ctx context.Context, machineID string, from, to time.Time) (telemetry.Summary, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var summary telemetry.Summary
	var rpmSum, feedSum float64
	for _, sample := range s.samples[machineID] {
		if sample.Timestamp.Before(from) || sample.Timestamp.After(to) {
			continue
		}
		if summary.Total == 0 {
			summary.MinRPM = sample.RPM
		}
		summary.Total++
		rpmSum += sample.RPM
		feedSum += sample.FeedRate
		summary.MaxRPM = max(summary.MaxRPM, sample.RPM)
		summary.MinRPM = min(summary.MinRPM, sample.RPM)
		summary.MaxFeed = max(summary.MaxFeed, sample.FeedRate)
		switch sample.State {
		case telemetry.StateRunning:
			summary.Running++
		case telemetry.StateStopped:
			summary.Stopped++
		case telemetry.StateIdle:
			summary.Idle++
		}
	}
	if summary.Total > 0 {
		summary.AvgRPM = rpmSum / float64(summary.Total)
		summary.AvgFeed = feedSum / float64(summary.Total)
	}
	return summary, nil
}

func sortSamplesDesc(samples []telemetry.Sample) {
	sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp.After(samples[j].Timestamp) })
}

func capSamples(samples []telemetry.Sample, limit int) []telemetry.Sample {
	if limit > 0 && len(samples) > limit {
		return samples[:limit]
	}
	return samples
}
