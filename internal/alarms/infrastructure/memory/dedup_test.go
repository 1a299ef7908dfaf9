package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestDedupStoreExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 11, 5, 8, 0, 0, 0, time.UTC)}
	store := NewDedupStore(clock)
	ctx := context.Background()

	ok, err := store.SetNX(ctx, "alert:r:M1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetNX(ctx, "alert:r:M1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(59 * time.Second)
	exists, err := store.Exists(ctx, "alert:r:M1")
	require.NoError(t, err)
	assert.True(t, exists)

	clock.Advance(time.Second)
	exists, err = store.Exists(ctx, "alert:r:M1")
	require.NoError(t, err)
	assert.False(t, exists)

	ok, err = store.SetNX(ctx, "alert:r:M1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDedupStoreSetNXIsAtomic(t *testing.T) {
	store := NewDedupStore(nil)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := store.SetNX(context.Background(), "alert:r:M1", time.Minute)
			if ok {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claims)
}
