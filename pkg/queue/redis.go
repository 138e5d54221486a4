package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trendwatch/trendwatch/pkg/models"
)

// Redis key layout. Task state is a hash; scheduling state is zsets whose
// scores encode priority-then-FIFO order (lower score pops first).
const (
	taskKeyPrefix    = "task:"
	pendingKeyPrefix = "queue:pending:"
	deferredKey      = "queue:deferred"
	claimedKey       = "queue:claimed"

	// priorityScoreStep dominates any realistic created_at millisecond value,
	// so a higher priority always sorts ahead of an older lower priority.
	priorityScoreStep = 1e13
)

// RedisQueue is the Redis-backed TaskQueue. All transitions run as Lua
// scripts so they are atomic under concurrent brokers and replicas.
type RedisQueue struct {
	rdb   redis.UniversalClient
	lease time.Duration
}

// NewRedisQueue creates a queue on the given Redis client.
// leaseTimeout <= 0 selects DefaultLeaseTimeout.
func NewRedisQueue(rdb redis.UniversalClient, leaseTimeout time.Duration) *RedisQueue {
	if leaseTimeout <= 0 {
		leaseTimeout = DefaultLeaseTimeout
	}
	return &RedisQueue{rdb: rdb, lease: leaseTimeout}
}

// Push enqueues a pending task; duplicate ids are a no-op.
func (q *RedisQueue) Push(ctx context.Context, task *models.Task) error {
	fields, err := taskFields(task)
	if err != nil {
		return fmt.Errorf("encoding task %s: %w", task.ID, err)
	}

	args := make([]any, 0, len(fields)+2)
	args = append(args, pendingScore(task), task.ID)
	args = append(args, fields...)

	created, err := pushScript.Run(ctx, q.rdb,
		[]string{taskKeyPrefix + task.ID, pendingKeyPrefix + task.Label},
		args...).Int()
	if err != nil {
		return fmt.Errorf("pushing task %s: %w", task.ID, err)
	}
	if created == 0 {
		slog.Debug("Duplicate task push ignored", "task_id", task.ID, "label", task.Label)
	}
	return nil
}

// Pop claims the best pending task across labels for agentName.
func (q *RedisQueue) Pop(ctx context.Context, labels []string, agentName string) (*models.Task, error) {
	if len(labels) == 0 {
		return nil, ErrNoTasks
	}

	now := time.Now().UTC()
	keys := make([]string, 0, len(labels)+1)
	for _, label := range labels {
		keys = append(keys, pendingKeyPrefix+label)
	}
	keys = append(keys, claimedKey)

	id, err := popScript.Run(ctx, q.rdb, keys,
		agentName,
		now.Format(time.RFC3339Nano),
		now.UnixMilli(),
		taskKeyPrefix).Text()
	if err == redis.Nil {
		return nil, ErrNoTasks
	}
	if err != nil {
		return nil, fmt.Errorf("popping task: %w", err)
	}
	return q.Get(ctx, id)
}

// MarkDone completes a claimed task and stores its result.
func (q *RedisQueue) MarkDone(ctx context.Context, task *models.Task, result any) error {
	resultJSON := ""
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encoding result for task %s: %w", task.ID, err)
		}
		resultJSON = string(b)
	}

	code, err := markDoneScript.Run(ctx, q.rdb,
		[]string{taskKeyPrefix + task.ID, claimedKey},
		task.AssignedTo,
		task.ID,
		time.Now().UTC().Format(time.RFC3339Nano),
		resultJSON).Int()
	if err != nil {
		return fmt.Errorf("completing task %s: %w", task.ID, err)
	}
	return transitionError(code, task.ID)
}

// MarkFailed records a failed attempt; the queue decides retry vs terminal.
func (q *RedisQueue) MarkFailed(ctx context.Context, task *models.Task, errMsg string) (bool, error) {
	code, err := markFailedScript.Run(ctx, q.rdb,
		[]string{taskKeyPrefix + task.ID, claimedKey, pendingKeyPrefix + task.Label},
		task.AssignedTo,
		task.ID,
		errMsg,
		time.Now().UTC().Format(time.RFC3339Nano),
		pendingScore(task)).Int()
	if err != nil {
		return false, fmt.Errorf("failing task %s: %w", task.ID, err)
	}
	if code < 0 {
		return false, transitionError(code, task.ID)
	}
	return code == 1, nil
}

// RequeueDelayed parks a claimed task as deferred until now+delay.
func (q *RedisQueue) RequeueDelayed(ctx context.Context, task *models.Task, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	code, err := requeueDelayedScript.Run(ctx, q.rdb,
		[]string{taskKeyPrefix + task.ID, claimedKey, deferredKey},
		task.AssignedTo,
		task.ID,
		time.Now().Add(delay).UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("deferring task %s: %w", task.ID, err)
	}
	return transitionError(code, task.ID)
}

// Get reads a task by id.
func (q *RedisQueue) Get(ctx context.Context, id string) (*models.Task, error) {
	fields, err := q.rdb.HGetAll(ctx, taskKeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("reading task %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrUnknownTask
	}
	return taskFromFields(fields)
}

// Depths returns the pending depth per label.
func (q *RedisQueue) Depths(ctx context.Context, labels []string) (map[string]int64, error) {
	pipe := q.rdb.Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(labels))
	for _, label := range labels {
		cmds[label] = pipe.ZCard(ctx, pendingKeyPrefix+label)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("reading queue depths: %w", err)
	}
	depths := make(map[string]int64, len(labels))
	for label, cmd := range cmds {
		depths[label] = cmd.Val()
	}
	return depths, nil
}

// Sweep promotes due deferred tasks and reclaims expired leases.
func (q *RedisQueue) Sweep(ctx context.Context) (SweepStats, error) {
	now := time.Now().UTC()
	var stats SweepStats

	promoted, err := sweepDeferredScript.Run(ctx, q.rdb,
		[]string{deferredKey},
		now.UnixMilli(),
		taskKeyPrefix,
		pendingKeyPrefix,
		int64(priorityScoreStep)).Int()
	if err != nil {
		return stats, fmt.Errorf("sweeping deferred tasks: %w", err)
	}
	stats.Promoted = promoted

	reclaimed, err := sweepLeasesScript.Run(ctx, q.rdb,
		[]string{claimedKey},
		now.Add(-q.lease).UnixMilli(),
		taskKeyPrefix,
		pendingKeyPrefix,
		int64(priorityScoreStep),
		now.Format(time.RFC3339Nano)).Int()
	if err != nil {
		return stats, fmt.Errorf("sweeping expired leases: %w", err)
	}
	stats.Reclaimed = reclaimed

	return stats, nil
}

// ReclaimAssigned immediately reclaims claimed tasks held by the named
// agents (startup orphan recovery).
func (q *RedisQueue) ReclaimAssigned(ctx context.Context, agentNames []string) (int, error) {
	if len(agentNames) == 0 {
		return 0, nil
	}
	args := []any{
		taskKeyPrefix,
		pendingKeyPrefix,
		int64(priorityScoreStep),
		time.Now().UTC().Format(time.RFC3339Nano),
	}
	for _, name := range agentNames {
		args = append(args, name)
	}
	reclaimed, err := reclaimAssignedScript.Run(ctx, q.rdb, []string{claimedKey}, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("reclaiming orphaned tasks: %w", err)
	}
	return reclaimed, nil
}

// pendingScore orders the pending zsets: higher priority first, FIFO within
// a priority class.
func pendingScore(task *models.Task) float64 {
	return float64(task.CreatedAt.UnixMilli()) - float64(task.Priority)*priorityScoreStep
}

func transitionError(code int, id string) error {
	switch code {
	case -1:
		return fmt.Errorf("task %s: %w", id, ErrUnknownTask)
	case -2:
		return fmt.Errorf("task %s: %w", id, ErrNotClaimant)
	case -3:
		return fmt.Errorf("task %s: %w", id, ErrNotClaimed)
	default:
		return nil
	}
}

// taskFields flattens a task into hash field/value pairs.
func taskFields(task *models.Task) ([]any, error) {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return nil, err
	}

	fields := []any{
		"id", task.ID,
		"label", task.Label,
		"priority", strconv.Itoa(task.Priority),
		"status", string(task.Status),
		"payload", string(payload),
		"parent_job_id", task.ParentJobID,
		"from_agent", task.FromAgent,
		"assigned_to", task.AssignedTo,
		"created_at", task.CreatedAt.UTC().Format(time.RFC3339Nano),
		"created_ms", strconv.FormatInt(task.CreatedAt.UnixMilli(), 10),
		"retry_count", strconv.Itoa(task.RetryCount),
		"max_retries", strconv.Itoa(task.MaxRetries),
		"error", task.Error,
	}
	if task.Result != nil {
		result, err := json.Marshal(task.Result)
		if err != nil {
			return nil, err
		}
		fields = append(fields, "result", string(result))
	}
	return fields, nil
}

// taskFromFields rebuilds a task from its hash representation.
func taskFromFields(fields map[string]string) (*models.Task, error) {
	task := &models.Task{
		ID:          fields["id"],
		Label:       fields["label"],
		Status:      models.TaskStatus(fields["status"]),
		ParentJobID: fields["parent_job_id"],
		FromAgent:   fields["from_agent"],
		AssignedTo:  fields["assigned_to"],
		Error:       fields["error"],
	}

	var err error
	if task.Priority, err = strconv.Atoi(orZero(fields["priority"])); err != nil {
		return nil, fmt.Errorf("task %s: bad priority: %w", task.ID, err)
	}
	if task.RetryCount, err = strconv.Atoi(orZero(fields["retry_count"])); err != nil {
		return nil, fmt.Errorf("task %s: bad retry_count: %w", task.ID, err)
	}
	if task.MaxRetries, err = strconv.Atoi(orZero(fields["max_retries"])); err != nil {
		return nil, fmt.Errorf("task %s: bad max_retries: %w", task.ID, err)
	}

	if raw := fields["payload"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &task.Payload); err != nil {
			return nil, fmt.Errorf("task %s: bad payload: %w", task.ID, err)
		}
	}
	if raw := fields["result"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &task.Result); err != nil {
			return nil, fmt.Errorf("task %s: bad result: %w", task.ID, err)
		}
	}

	if task.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("task %s: bad created_at: %w", task.ID, err)
	}
	if raw := fields["started_at"]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("task %s: bad started_at: %w", task.ID, err)
		}
		task.StartedAt = &ts
	}
	if raw := fields["completed_at"]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("task %s: bad completed_at: %w", task.ID, err)
		}
		task.CompletedAt = &ts
	}

	return task, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
