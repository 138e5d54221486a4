package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/trendwatch/trendwatch/pkg/models"
)

// MemoryQueue is an in-process TaskQueue with the same semantics as the
// Redis queue. It backs unit tests and single-process development runs;
// it provides no durability.
type MemoryQueue struct {
	mu        sync.Mutex
	tasks     map[string]*models.Task
	deferred  map[string]time.Time // task id → visible at
	claimedAt map[string]time.Time // task id → lease start
	lease     time.Duration
	seq       map[string]int // task id → arrival order for stable FIFO
	nextSeq   int
}

// NewMemoryQueue creates an empty in-memory queue.
// leaseTimeout <= 0 selects DefaultLeaseTimeout.
func NewMemoryQueue(leaseTimeout time.Duration) *MemoryQueue {
	if leaseTimeout <= 0 {
		leaseTimeout = DefaultLeaseTimeout
	}
	return &MemoryQueue{
		tasks:     make(map[string]*models.Task),
		deferred:  make(map[string]time.Time),
		claimedAt: make(map[string]time.Time),
		lease:     leaseTimeout,
		seq:       make(map[string]int),
	}
}

// Push enqueues a pending task; duplicate ids are a no-op.
func (q *MemoryQueue) Push(_ context.Context, task *models.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.tasks[task.ID]; exists {
		slog.Debug("Duplicate task push ignored", "task_id", task.ID, "label", task.Label)
		return nil
	}
	clone := cloneTask(task)
	clone.Status = models.TaskStatusPending
	q.tasks[task.ID] = clone
	q.seq[task.ID] = q.nextSeq
	q.nextSeq++
	return nil
}

// Pop claims the highest-priority pending task for one of the labels.
func (q *MemoryQueue) Pop(_ context.Context, labels []string, agentName string) (*models.Task, error) {
	if len(labels) == 0 {
		return nil, ErrNoTasks
	}
	wanted := make(map[string]bool, len(labels))
	for _, l := range labels {
		wanted[l] = true
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var best *models.Task
	for _, task := range q.tasks {
		if task.Status != models.TaskStatusPending || !wanted[task.Label] {
			continue
		}
		if best == nil || q.before(task, best) {
			best = task
		}
	}
	if best == nil {
		return nil, ErrNoTasks
	}

	now := time.Now().UTC()
	best.Status = models.TaskStatusClaimed
	best.AssignedTo = agentName
	best.StartedAt = &now
	q.claimedAt[best.ID] = now
	return cloneTask(best), nil
}

// before reports whether a should pop ahead of b: higher priority first,
// then older created_at, then arrival order.
func (q *MemoryQueue) before(a, b *models.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return q.seq[a.ID] < q.seq[b.ID]
}

// MarkDone completes a claimed task.
func (q *MemoryQueue) MarkDone(_ context.Context, task *models.Task, result any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, err := q.claimedBy(task)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	stored.Status = models.TaskStatusCompleted
	stored.CompletedAt = &now
	stored.Result = result
	delete(q.claimedAt, stored.ID)
	return nil
}

// MarkFailed records a failed attempt; retry accounting matches the Redis
// implementation.
func (q *MemoryQueue) MarkFailed(_ context.Context, task *models.Task, errMsg string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, err := q.claimedBy(task)
	if err != nil {
		return false, err
	}
	stored.Error = errMsg
	delete(q.claimedAt, stored.ID)

	if stored.RetryCount < stored.MaxRetries {
		stored.RetryCount++
		stored.Status = models.TaskStatusPending
		stored.AssignedTo = ""
		return false, nil
	}
	now := time.Now().UTC()
	stored.Status = models.TaskStatusFailed
	stored.CompletedAt = &now
	return true, nil
}

// RequeueDelayed parks a claimed task as deferred until now+delay.
func (q *MemoryQueue) RequeueDelayed(_ context.Context, task *models.Task, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, err := q.claimedBy(task)
	if err != nil {
		return err
	}
	if delay < 0 {
		delay = 0
	}
	stored.Status = models.TaskStatusDeferred
	stored.AssignedTo = ""
	delete(q.claimedAt, stored.ID)
	q.deferred[stored.ID] = time.Now().Add(delay)
	return nil
}

// Get reads a task by id.
func (q *MemoryQueue) Get(_ context.Context, id string) (*models.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, ok := q.tasks[id]
	if !ok {
		return nil, ErrUnknownTask
	}
	return cloneTask(stored), nil
}

// Depths returns the pending depth per label.
func (q *MemoryQueue) Depths(_ context.Context, labels []string) (map[string]int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	depths := make(map[string]int64, len(labels))
	for _, label := range labels {
		depths[label] = 0
	}
	for _, task := range q.tasks {
		if task.Status != models.TaskStatusPending {
			continue
		}
		if _, ok := depths[task.Label]; ok {
			depths[task.Label]++
		}
	}
	return depths, nil
}

// Sweep promotes due deferred tasks and reclaims expired leases.
func (q *MemoryQueue) Sweep(_ context.Context) (SweepStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var stats SweepStats

	for id, visibleAt := range q.deferred {
		if visibleAt.After(now) {
			continue
		}
		if task, ok := q.tasks[id]; ok {
			task.Status = models.TaskStatusPending
		}
		delete(q.deferred, id)
		stats.Promoted++
	}

	cutoff := now.Add(-q.lease)
	for id, startedAt := range q.claimedAt {
		if startedAt.After(cutoff) {
			continue
		}
		task, ok := q.tasks[id]
		if !ok {
			delete(q.claimedAt, id)
			continue
		}
		if task.RetryCount < task.MaxRetries {
			task.RetryCount++
			task.Status = models.TaskStatusPending
			task.AssignedTo = ""
		} else {
			completedAt := now.UTC()
			task.Status = models.TaskStatusFailed
			task.Error = "lease expired: claimant did not complete in time"
			task.CompletedAt = &completedAt
		}
		delete(q.claimedAt, id)
		stats.Reclaimed++
	}

	return stats, nil
}

// ReclaimAssigned immediately reclaims claimed tasks held by the named
// agents (startup orphan recovery).
func (q *MemoryQueue) ReclaimAssigned(_ context.Context, agentNames []string) (int, error) {
	owned := make(map[string]bool, len(agentNames))
	for _, name := range agentNames {
		owned[name] = true
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	reclaimed := 0
	for id := range q.claimedAt {
		task, ok := q.tasks[id]
		if !ok {
			delete(q.claimedAt, id)
			continue
		}
		if !owned[task.AssignedTo] {
			continue
		}
		if task.RetryCount < task.MaxRetries {
			task.RetryCount++
			task.Status = models.TaskStatusPending
			task.AssignedTo = ""
		} else {
			completedAt := now.UTC()
			task.Status = models.TaskStatusFailed
			task.Error = "orphaned: claimant restarted while task was in progress"
			task.CompletedAt = &completedAt
		}
		delete(q.claimedAt, id)
		reclaimed++
	}
	return reclaimed, nil
}

// claimedBy validates that the task exists, is claimed, and is held by the
// caller. Must be called with the lock held.
func (q *MemoryQueue) claimedBy(task *models.Task) (*models.Task, error) {
	stored, ok := q.tasks[task.ID]
	if !ok {
		return nil, ErrUnknownTask
	}
	if stored.Status != models.TaskStatusClaimed {
		return nil, ErrNotClaimed
	}
	if stored.AssignedTo != task.AssignedTo {
		return nil, ErrNotClaimant
	}
	return stored, nil
}

func cloneTask(task *models.Task) *models.Task {
	clone := *task
	if task.Payload != nil {
		clone.Payload = make(map[string]any, len(task.Payload))
		for k, v := range task.Payload {
			clone.Payload[k] = v
		}
	}
	if task.StartedAt != nil {
		ts := *task.StartedAt
		clone.StartedAt = &ts
	}
	if task.CompletedAt != nil {
		ts := *task.CompletedAt
		clone.CompletedAt = &ts
	}
	return &clone
}
