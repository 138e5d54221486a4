// Package progress stores the pipeline state surfaced to UIs and the HTTP
// API: per-entity progress records, the set of child task ids being fanned
// in, per-task progress messages, and agent heartbeats. All records are
// TTL'd; nothing here is a source of truth for task state.
package progress

import (
	"context"
	"errors"
	"time"

	"github.com/trendwatch/trendwatch/pkg/models"
)

// Record TTLs. Entity records live a day past their last update; per-task
// messages an hour. Expiry is the cleanup mechanism of last resort; fan-in
// completion deletes per-task records eagerly.
const (
	EntityTTL = 24 * time.Hour
	TaskTTL   = time.Hour
)

// ErrNotFound indicates the requested record does not exist or has expired.
var ErrNotFound = errors.New("progress record not found")

// Store is the progress persistence contract.
type Store interface {
	// SetPhase writes the entity's phase and refreshes updated_at, keeping
	// other fields intact.
	SetPhase(ctx context.Context, ref models.EntityRef, phase models.Phase) error

	// SetCrawling enters the crawling phase with total expected children.
	SetCrawling(ctx context.Context, ref models.EntityRef, total int) error

	// SetStep updates the human-readable current-action string.
	SetStep(ctx context.Context, ref models.EntityRef, step string) error

	// SetError enters the error phase with a message.
	SetError(ctx context.Context, ref models.EntityRef, msg string) error

	// IncrDone atomically increments the done counter and returns it.
	IncrDone(ctx context.Context, ref models.EntityRef) (int, error)

	// Get reads the entity progress record.
	Get(ctx context.Context, ref models.EntityRef) (*models.EntityProgress, error)

	// ReplaceTaskSet atomically replaces the entity's child task-id set.
	ReplaceTaskSet(ctx context.Context, ref models.EntityRef, ids []string) error

	// TaskSet reads the entity's child task-id set (empty when absent).
	TaskSet(ctx context.Context, ref models.EntityRef) ([]string, error)

	// DeleteTaskSet removes the entity's child task-id set.
	DeleteTaskSet(ctx context.Context, ref models.EntityRef) error

	// SetTaskProgress writes the progress message for one task.
	SetTaskProgress(ctx context.Context, taskID string, p *models.TaskProgress) error

	// TaskProgress reads the progress message for one task.
	TaskProgress(ctx context.Context, taskID string) (*models.TaskProgress, error)

	// DeleteTaskProgress removes the progress message for one task.
	DeleteTaskProgress(ctx context.Context, taskID string) error
}

// Redis key helpers. The fan-in coordinator shares these so its Lua scripts
// touch the same records the store reads.

// EntityKey is the hash holding an entity's progress record.
func EntityKey(ref models.EntityRef) string {
	return "progress:" + string(ref.Type) + ":" + ref.ID
}

// TaskSetKey is the set of child task ids being fanned in for an entity.
func TaskSetKey(ref models.EntityRef) string {
	return "progress:tasks:" + string(ref.Type) + ":" + ref.ID
}

// TaskProgressKey is the per-task progress record.
func TaskProgressKey(taskID string) string {
	return "taskprogress:" + taskID
}

// PendingKey is the fan-in outstanding-children counter for an entity.
func PendingKey(ref models.EntityRef) string {
	return "fanin:pending:" + string(ref.Type) + ":" + ref.ID
}

// OnCompleteKey is the staged fan-in continuation for an entity.
func OnCompleteKey(ref models.EntityRef) string {
	return "fanin:oncomplete:" + string(ref.Type) + ":" + ref.ID
}
