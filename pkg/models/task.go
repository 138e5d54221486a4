// Package models contains the shared value types for the monitoring engine:
// tasks, execution results, progress records, and agent heartbeats.
package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Task lifecycle: pending → claimed → (completed | failed | deferred).
// Deferred tasks return to pending when their visibility timer elapses.
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusClaimed   TaskStatus = "claimed"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusDeferred  TaskStatus = "deferred"
)

// Terminal reports whether the status is a terminal state.
// A failed task is terminal only once its retry budget is exhausted,
// which the queue guarantees before it ever writes this status.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task priorities. Higher values are popped first; ties are FIFO.
const (
	PriorityLow    = 0
	PriorityMedium = 1
	PriorityHigh   = 2
)

// DefaultMaxRetries is the retry budget assigned to new tasks.
const DefaultMaxRetries = 3

// Task is a unit of work routed by label through the task queue.
// Payload is task-specific and opaque to the queue and runtime; only the
// entity extraction rule (topic_id over user_id) inspects it.
type Task struct {
	ID          string         `json:"id"`
	Label       string         `json:"label"`
	Priority    int            `json:"priority"`
	Status      TaskStatus     `json:"status"`
	Payload     map[string]any `json:"payload"`
	ParentJobID string         `json:"parent_job_id,omitempty"`
	FromAgent   string         `json:"from_agent,omitempty"`
	AssignedTo  string         `json:"assigned_to,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	RetryCount  int            `json:"retry_count"`
	MaxRetries  int            `json:"max_retries"`
	Error       string         `json:"error,omitempty"`
	Result      any            `json:"result,omitempty"`
}

// NewTask creates a pending task with a fresh ID and default retry budget.
func NewTask(label string, payload map[string]any) *Task {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Task{
		ID:         uuid.NewString(),
		Label:      label,
		Priority:   PriorityLow,
		Status:     TaskStatusPending,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: DefaultMaxRetries,
	}
}

// EntityType scopes progress and fan-in records.
type EntityType string

const (
	EntityTypeTopic EntityType = "topic"
	EntityTypeUser  EntityType = "user"
)

// EntityRef identifies a topic or tracked user.
type EntityRef struct {
	Type EntityType
	ID   string
}

// Entity extracts the entity reference from the task payload.
// topic_id wins over user_id when both are present; this precedence is
// load-bearing for fan-in scoping and must not be normalized away.
func (t *Task) Entity() (EntityRef, bool) {
	if id, ok := stringField(t.Payload, "topic_id"); ok {
		return EntityRef{Type: EntityTypeTopic, ID: id}, true
	}
	if id, ok := stringField(t.Payload, "user_id"); ok {
		return EntityRef{Type: EntityTypeUser, ID: id}, true
	}
	return EntityRef{}, false
}

func stringField(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
