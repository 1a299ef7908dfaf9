package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

const (
	breakerMaxFailures = 5
	breakerOpenTimeout = 30 * time.Second
)

// BreakerChannel guards a channel with a circuit breaker. The breaker opens
// after consecutive failures and rejects sends until its open interval ends.
type BreakerChannel struct {
	name string
	next Channel
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerChannel wraps next.
func NewBreakerChannel(name string, next Channel, logger *log.Logger) *BreakerChannel {
	if logger == nil {
		logger = log.Default()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("alarm channel: breaker state change: channel=%s from=%s to=%s", name, from, to)
		},
	})
	return &BreakerChannel{name: name, next: next, cb: cb}
}

// Send delivers through the breaker. Failures wrap ErrChannelDispatch.
func (b *BreakerChannel) Send(ctx context.Context, msg Message) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Send(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrChannelDispatch, b.name, err)
	}
	return nil
}

// State returns the breaker state.
func (b *BreakerChannel) State() gobreaker.State {
	return b.cb.State()
}
