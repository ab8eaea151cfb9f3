package lights

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate bounds how many connect sequences run against the adapter at once.
// Waiters are admitted in FIFO order, so a light queued early is not starved
// by later arrivals.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int

	inUse   atomic.Int64
	waiting atomic.Int64
}

// GateStats contains counters for observability.
type GateStats struct {
	Capacity int `json:"capacity"`
	InUse    int `json:"in_use"`
	Waiting  int `json:"waiting"`
}

// NewGate creates a Gate admitting up to capacity holders.
func NewGate(capacity int) *Gate {
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// Acquire blocks until a slot is free or ctx is cancelled.
//
// Returns:
//   - error: ctx.Err() if the wait was abandoned
func (g *Gate) Acquire(ctx context.Context) error {
	g.waiting.Add(1)
	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		return err
	}
	g.inUse.Add(1)
	return nil
}

// Release returns a slot. Must pair with a successful Acquire.
func (g *Gate) Release() {
	g.inUse.Add(-1)
	g.sem.Release(1)
}

// Busy reports whether any slot is held or any waiter is queued.
func (g *Gate) Busy() bool {
	return g.inUse.Load() > 0 || g.waiting.Load() > 0
}

// Stats returns gate occupancy.
func (g *Gate) Stats() GateStats {
	return GateStats{
		Capacity: g.capacity,
		InUse:    int(g.inUse.Load()),
		Waiting:  int(g.waiting.Load()),
	}
}
