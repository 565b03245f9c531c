package concurrency

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Gate bounds how many account processors execute at once. Waiters beyond
// the bound block in Enter without consuming execution resources.
type Gate struct {
	limit     int32
	current   atomic.Int32
	semaphore chan struct{}

	totalEntries  atomic.Int64
	rejectedCount atomic.Int64
}

// NewGate creates a gate admitting up to limit concurrent holders.
func NewGate(limit int32) (*Gate, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("gate limit must be positive, got: %d", limit)
	}

	return &Gate{
		limit:     limit,
		semaphore: make(chan struct{}, limit),
	}, nil
}

// Enter blocks until a slot is free or ctx is done.
func (g *Gate) Enter(ctx context.Context) error {
	select {
	case g.semaphore <- struct{}{}:
		g.current.Add(1)
		g.totalEntries.Add(1)
		return nil
	case <-ctx.Done():
		g.rejectedCount.Add(1)
		return fmt.Errorf("failed to enter concurrency gate: %w", ctx.Err())
	}
}

// TryEnter attempts to take a slot without blocking.
func (g *Gate) TryEnter() bool {
	select {
	case g.semaphore <- struct{}{}:
		g.current.Add(1)
		g.totalEntries.Add(1)
		return true
	default:
		return false
	}
}

// Leave releases a slot.
func (g *Gate) Leave() {
	select {
	case <-g.semaphore:
		g.current.Add(-1)
	default:
		panic("leaving concurrency gate more times than entered")
	}
}

// Available returns the number of free slots.
func (g *Gate) Available() int32 {
	return g.limit - g.current.Load()
}

// GetMetrics returns current gate metrics
func (g *Gate) GetMetrics() map[string]int64 {
	return map[string]int64{
		"current":        int64(g.current.Load()),
		"total_entries":  g.totalEntries.Load(),
		"rejected_count": g.rejectedCount.Load(),
	}
}
