package health

import (
	"sort"
	"sync"
	"time"
)

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// WorkerStatus is the reported health of one background worker.
type WorkerStatus struct {
	Name              string     `json:"name"`
	Enabled           bool       `json:"enabled"`
	LastSnapshotAt    *time.Time `json:"last_snapshot_at,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	LastError         string     `json:"last_error,omitempty"`
}

// Registry tracks background worker health.
type Registry struct {
	mu      sync.RWMutex
	clock   Clock
	workers map[string]*WorkerStatus
}

// NewRegistry constructs an empty registry.
func NewRegistry(clock Clock) *Registry {
	if clock == nil {
		clock = systemClock{}
	}
	return &Registry{clock: clock, workers: make(map[string]*WorkerStatus)}
}

// Register adds a worker, or updates its enabled flag.
func (r *Registry) Register(name string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.worker(name)
	w.Enabled = enabled
}

// Success records a completed run and resets the error streak.
func (r *Registry) Success(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.worker(name)
	now := r.clock.Now().UTC()
	w.LastSnapshotAt = &now
	w.ConsecutiveErrors = 0
	w.LastError = ""
}

// Failure records a failed run.
func (r *Registry) Failure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.worker(name)
	w.ConsecutiveErrors++
	if err != nil {
		w.LastError = err.Error()
	}
}

// Get returns a copy of one worker status.
func (r *Registry) Get(name string) (WorkerStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[name]
	if !ok {
		return WorkerStatus{}, false
	}
	return copyStatus(w), true
}

// List returns all workers sorted by name.
func (r *Registry) List() []WorkerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WorkerStatus, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, copyStatus(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// worker must be called with the lock held.
func (r *Registry) worker(name string) *WorkerStatus {
	w, ok := r.workers[name]
	if !ok {
		w = &WorkerStatus{Name: name, Enabled: true}
		r.workers[name] = w
	}
	return w
}

func copyStatus(w *WorkerStatus) WorkerStatus {
	out := *w
	if w.LastSnapshotAt != nil {
		at := *w.LastSnapshotAt
		out.LastSnapshotAt = &at
	}
	return out
}
