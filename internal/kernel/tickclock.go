// internal/kernel/tickclock.go

package kernel

import (
	"context"
	"sync/atomic"
	"time"
)

// TickClock emits wall-clock ticks and counts them atomically. The
// simulator uses it to pace virtual time against real time.
type TickClock struct {
	Ch    chan struct{}
	count atomic.Int64
	stop  chan struct{}
}

// NewTickClock creates a clock but does not start it.
func NewTickClock(buffer int) *TickClock {
	return &TickClock{
		Ch:   make(chan struct{}, buffer),
		stop: make(chan struct{}),
	}
}

// Start begins emitting ticks at the given interval.
func (c *TickClock) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.count.Add(1)
				select {
				case c.Ch <- struct{}{}:
				case <-c.stop:
					return
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop signals the clock to stop emitting ticks.
func (c *TickClock) Stop() {
	close(c.stop)
}

// Count returns the current tick count atomically.
func (c *TickClock) Count() int64 {
	return c.count.Load()
}

// Wait blocks until n ticks have been received or ctx is done.
func (c *TickClock) Wait(ctx context.Context, n int64) error {
	for i := int64(0); i < n; i++ {
		select {
		case <-c.Ch:
		case <-c.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
