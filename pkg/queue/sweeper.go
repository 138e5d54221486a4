package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval keeps deferred-task promotion latency around a second.
const DefaultSweepInterval = time.Second

// Sweeper periodically runs queue sweeps: promoting due deferred tasks and
// reclaiming expired leases. All replicas run one independently; the
// underlying sweep operations are idempotent.
type Sweeper struct {
	queue    TaskQueue
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu        sync.Mutex
	lastSweep time.Time
	promoted  int
	reclaimed int
}

// NewSweeper creates a sweeper for the given queue.
// interval <= 0 selects DefaultSweepInterval.
func NewSweeper(q TaskQueue, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		queue:    q,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop signals the sweeper to stop and waits for it to finish.
// Safe to call multiple times.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Stats returns the last sweep time and cumulative counters.
func (s *Sweeper) Stats() (lastSweep time.Time, promoted, reclaimed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSweep, s.promoted, s.reclaimed
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.queue.Sweep(ctx)
			if err != nil {
				// Transient storage errors: log and try again next tick.
				slog.Warn("Queue sweep failed", "error", err)
				continue
			}
			s.mu.Lock()
			s.lastSweep = time.Now()
			s.promoted += stats.Promoted
			s.reclaimed += stats.Reclaimed
			s.mu.Unlock()
			if stats.Promoted > 0 || stats.Reclaimed > 0 {
				slog.Info("Queue sweep",
					"promoted", stats.Promoted,
					"reclaimed", stats.Reclaimed)
			}
		}
	}
}
