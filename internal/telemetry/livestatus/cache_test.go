package livestatus

import (
	"sync"
	"testing"
	"time"

	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time { return c.now }

func TestCacheDefaultsToIdle(t *testing.T) {
	now := time.Date(2025, 11, 5, 8, 0, 0, 0, time.UTC)
	cache := NewCache(WithClock(fakeClock{now: now}))

	status := cache.Get("CNC-SIM-001")
	if status.State != telemetry.StateIdle || status.RPM != 0 || status.FeedRate != 0 {
		t.Fatalf("unexpected default: %+v", status)
	}
	if !status.UpdatedAt.Equal(now) {
		t.Fatalf("expected updated_at now, got %v", status.UpdatedAt)
	}
	if len(cache.List()) != 0 {
		t.Fatal("default status must not be stored")
	}
}

func TestCacheIgnoresOlderUpdates(t *testing.T) {
	cache := NewCache()
	at := time.Date(2025, 11, 5, 8, 0, 0, 0, time.UTC)

	if !cache.Update(telemetry.LiveStatus{MachineID: "M1", RPM: 4000, State: telemetry.StateRunning, UpdatedAt: at}) {
		t.Fatal("expected first update applied")
	}
	if cache.Update(telemetry.LiveStatus{MachineID: "M1", RPM: 0, State: telemetry.StateStopped, UpdatedAt: at.Add(-time.Second)}) {
		t.Fatal("expected older update ignored")
	}
	if got := cache.Get("M1"); got.RPM != 4000 || got.State != telemetry.StateRunning {
		t.Fatalf("unexpected status: %+v", got)
	}
	if !cache.Update(telemetry.LiveStatus{MachineID: "M1", RPM: 10, State: telemetry.StateIdle, UpdatedAt: at}) {
		t.Fatal("expected equal timestamp to overwrite")
	}
}

func TestCacheConcurrentUpdates(t *testing.T) {
	cache := NewCache()
	base := time.Date(2025, 11, 5, 8, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cache.Update(telemetry.LiveStatus{
				MachineID: "M1",
				RPM:       float64(i),
				State:     telemetry.StateRunning,
				UpdatedAt: base.Add(time.Duration(i) * time.Second),
			})
			_ = cache.Get("M1")
		}(i)
	}
	wg.Wait()

	if got := cache.Get("M1"); got.RPM != 49 {
		t.Fatalf("expected newest update to win, got %+v", got)
	}
}
