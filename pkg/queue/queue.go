// Package queue provides the durable priority task queue shared by all
// agents. Tasks are routed by label; Pop atomically claims the highest
// priority pending task for an agent, and the sweeper promotes deferred
// tasks and reclaims expired leases.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/trendwatch/trendwatch/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoTasks indicates no pending task matched the requested labels.
	ErrNoTasks = errors.New("no tasks available")

	// ErrUnknownTask indicates a transition was requested for a task id the
	// queue has never seen. This is a logic bug in the caller, not a
	// recoverable condition.
	ErrUnknownTask = errors.New("unknown task id")

	// ErrNotClaimant indicates a worker tried to transition a claimed task
	// it does not hold.
	ErrNotClaimant = errors.New("task is claimed by another agent")

	// ErrNotClaimed indicates a transition was requested for a task that is
	// not in the claimed state.
	ErrNotClaimed = errors.New("task is not claimed")
)

// DefaultLeaseTimeout is how long a claimed task may go without completing
// before the sweeper reclaims it.
const DefaultLeaseTimeout = 10 * time.Minute

// SweepStats reports the work done by one sweeper pass.
type SweepStats struct {
	Promoted  int // deferred tasks returned to pending
	Reclaimed int // expired leases recovered
}

// TaskQueue is the durable priority queue contract.
//
// All transitions are persisted before the call returns. Execution is
// at-least-once: a crashed claimant's task is reclaimed after the lease
// timeout with an incremented retry count.
type TaskQueue interface {
	// Push enqueues a pending task. Idempotent on task ID: a duplicate push
	// is a no-op and returns nil.
	Push(ctx context.Context, task *models.Task) error

	// Pop atomically claims the highest-priority pending task whose label is
	// in labels, assigns it to agentName, and returns it. Ties within a
	// priority class break oldest-first. Returns ErrNoTasks when nothing is
	// eligible; never blocks.
	Pop(ctx context.Context, labels []string, agentName string) (*models.Task, error)

	// MarkDone transitions a claimed task to completed and stores its result.
	// Only the claimant named in task.AssignedTo may call this.
	MarkDone(ctx context.Context, task *models.Task, result any) error

	// MarkFailed records a failed attempt. The queue owns retry accounting:
	// while budget remains the task returns to pending with retry_count
	// incremented; otherwise it terminalizes as failed. Returns whether the
	// task is now terminal.
	MarkFailed(ctx context.Context, task *models.Task, errMsg string) (terminal bool, err error)

	// RequeueDelayed parks a claimed task as deferred until now+delay.
	// Does not consume retry budget.
	RequeueDelayed(ctx context.Context, task *models.Task, delay time.Duration) error

	// Get returns the current state of a task by id.
	Get(ctx context.Context, id string) (*models.Task, error)

	// Depths returns the pending depth per label, for health reporting.
	Depths(ctx context.Context, labels []string) (map[string]int64, error)

	// Sweep promotes due deferred tasks to pending and reclaims claimed
	// tasks whose lease expired. Safe to run concurrently from multiple
	// replicas; operations are atomic per task.
	Sweep(ctx context.Context) (SweepStats, error)

	// ReclaimAssigned immediately reclaims claimed tasks assigned to the
	// named agents, without waiting for the lease to expire. Called once at
	// startup, before those agents begin polling: any task still claimed
	// under one of this process's agent names was orphaned by a previous
	// run. Retry accounting matches lease reclaim. Returns the number of
	// tasks reclaimed.
	ReclaimAssigned(ctx context.Context, agentNames []string) (int, error)
}
