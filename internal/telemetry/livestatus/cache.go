package livestatus

import (
	"sort"
	"sync"
	"time"

	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Cache holds the latest status per machine.
type Cache struct {
	mu       sync.RWMutex
	clock    Clock
	statuses map[string]telemetry.LiveStatus
}

// Option configures the cache.
type Option func(*Cache)

// WithClock overrides the clock used for default statuses.
func WithClock(clock Clock) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewCache constructs an empty cache.
func NewCache(opts ...Option) *Cache {
	c := &Cache{clock: systemClock{}, statuses: make(map[string]telemetry.LiveStatus)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Update stores status unless a newer one is already held. It reports
// whether the entry changed.
func (c *Cache) Update(status telemetry.LiveStatus) bool {
	if status.MachineID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.statuses[status.MachineID]; ok && status.UpdatedAt.Before(current.UpdatedAt) {
		return false
	}
	status.UpdatedAt = status.UpdatedAt.UTC()
	c.statuses[status.MachineID] = status
	return true
}

// Get returns the stored status, or an idle default stamped with now.
func (c *Cache) Get(machineID string) telemetry.LiveStatus {
	c.mu.RLock()
	status, ok := c.statuses[machineID]
	c.mu.RUnlock()
	if !ok {
		return telemetry.DefaultStatus(machineID, c.clock.Now())
	}
	return status
}

// List returns all known statuses sorted by machine id.
func (c *Cache) List() []telemetry.LiveStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]telemetry.LiveStatus, 0, len(c.statuses))
	for _, status := range c.statuses {
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MachineID < out[j].MachineID })
	return out
}
