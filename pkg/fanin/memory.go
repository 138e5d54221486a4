package fanin

import (
	"context"
	"sync"

	"github.com/trendwatch/trendwatch/pkg/models"
	"github.com/trendwatch/trendwatch/pkg/progress"
)

// MemoryCoordinator is an in-process Coordinator for tests and
// single-process runs. It bumps the done counter through the given
// progress store, mirroring what the Redis script does in one round trip.
type MemoryCoordinator struct {
	mu      sync.Mutex
	store   progress.Store
	pending map[models.EntityRef]int
	conts   map[models.EntityRef]*models.Continuation
}

// NewMemoryCoordinator creates a coordinator over the given progress store.
func NewMemoryCoordinator(store progress.Store) *MemoryCoordinator {
	return &MemoryCoordinator{
		store:   store,
		pending: make(map[models.EntityRef]int),
		conts:   make(map[models.EntityRef]*models.Continuation),
	}
}

// Stage records the continuation and pending counter.
func (c *MemoryCoordinator) Stage(_ context.Context, ref models.EntityRef, cont *models.Continuation, pending int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := *cont
	c.conts[ref] = &clone
	c.pending[ref] = pending
	return nil
}

// TaskTerminal decrements the counter and consumes the continuation on the
// zero crossing.
func (c *MemoryCoordinator) TaskTerminal(ctx context.Context, ref models.EntityRef) (*Outcome, error) {
	c.mu.Lock()
	remaining := c.pending[ref] - 1
	c.pending[ref] = remaining

	var outcome Outcome
	if remaining <= 0 {
		delete(c.pending, ref)
		outcome.Complete = true
		if cont, ok := c.conts[ref]; ok {
			delete(c.conts, ref)
			outcome.Continuation = cont
		}
	}
	c.mu.Unlock()

	if _, err := c.store.IncrDone(ctx, ref); err != nil {
		return nil, err
	}
	return &outcome, nil
}
