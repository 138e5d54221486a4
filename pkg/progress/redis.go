package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trendwatch/trendwatch/pkg/models"
)

// RedisStore is the Redis-backed progress store. Entity records are hashes,
// task sets are sets, per-task records are JSON strings; every write
// refreshes the record's TTL.
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore creates a progress store on the given Redis client.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) writeEntity(ctx context.Context, ref models.EntityRef, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, EntityKey(ref), fields)
	pipe.Expire(ctx, EntityKey(ref), EntityTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing progress for %s %s: %w", ref.Type, ref.ID, err)
	}
	return nil
}

// SetPhase writes the entity's phase.
func (s *RedisStore) SetPhase(ctx context.Context, ref models.EntityRef, phase models.Phase) error {
	return s.writeEntity(ctx, ref, map[string]any{"phase": string(phase)})
}

// SetCrawling enters the crawling phase with total expected children.
func (s *RedisStore) SetCrawling(ctx context.Context, ref models.EntityRef, total int) error {
	return s.writeEntity(ctx, ref, map[string]any{
		"phase": string(models.PhaseCrawling),
		"total": total,
		"done":  0,
	})
}

// SetStep updates the current-action string.
func (s *RedisStore) SetStep(ctx context.Context, ref models.EntityRef, step string) error {
	return s.writeEntity(ctx, ref, map[string]any{"step": step})
}

// SetError enters the error phase with a message.
func (s *RedisStore) SetError(ctx context.Context, ref models.EntityRef, msg string) error {
	return s.writeEntity(ctx, ref, map[string]any{
		"phase":     string(models.PhaseError),
		"error_msg": msg,
	})
}

// IncrDone atomically increments the done counter.
func (s *RedisStore) IncrDone(ctx context.Context, ref models.EntityRef) (int, error) {
	pipe := s.rdb.TxPipeline()
	incr := pipe.HIncrBy(ctx, EntityKey(ref), "done", 1)
	pipe.HSet(ctx, EntityKey(ref), "updated_at", time.Now().UTC().Format(time.RFC3339Nano))
	pipe.Expire(ctx, EntityKey(ref), EntityTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incrementing done for %s %s: %w", ref.Type, ref.ID, err)
	}
	return int(incr.Val()), nil
}

// Get reads the entity progress record.
func (s *RedisStore) Get(ctx context.Context, ref models.EntityRef) (*models.EntityProgress, error) {
	fields, err := s.rdb.HGetAll(ctx, EntityKey(ref)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading progress for %s %s: %w", ref.Type, ref.ID, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return entityFromFields(fields)
}

// ReplaceTaskSet atomically replaces the entity's child task-id set.
func (s *RedisStore) ReplaceTaskSet(ctx context.Context, ref models.EntityRef, ids []string) error {
	key := TaskSetKey(ref)
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(ids) > 0 {
		members := make([]any, len(ids))
		for i, id := range ids {
			members[i] = id
		}
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, EntityTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replacing task set for %s %s: %w", ref.Type, ref.ID, err)
	}
	return nil
}

// TaskSet reads the entity's child task-id set.
func (s *RedisStore) TaskSet(ctx context.Context, ref models.EntityRef) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, TaskSetKey(ref)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading task set for %s %s: %w", ref.Type, ref.ID, err)
	}
	return ids, nil
}

// DeleteTaskSet removes the entity's child task-id set.
func (s *RedisStore) DeleteTaskSet(ctx context.Context, ref models.EntityRef) error {
	if err := s.rdb.Del(ctx, TaskSetKey(ref)).Err(); err != nil {
		return fmt.Errorf("deleting task set for %s %s: %w", ref.Type, ref.ID, err)
	}
	return nil
}

// SetTaskProgress writes the progress message for one task.
func (s *RedisStore) SetTaskProgress(ctx context.Context, taskID string, p *models.TaskProgress) error {
	p.UpdatedAt = time.Now().UTC()
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding task progress for %s: %w", taskID, err)
	}
	if err := s.rdb.Set(ctx, TaskProgressKey(taskID), b, TaskTTL).Err(); err != nil {
		return fmt.Errorf("writing task progress for %s: %w", taskID, err)
	}
	return nil
}

// TaskProgress reads the progress message for one task.
func (s *RedisStore) TaskProgress(ctx context.Context, taskID string) (*models.TaskProgress, error) {
	raw, err := s.rdb.Get(ctx, TaskProgressKey(taskID)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading task progress for %s: %w", taskID, err)
	}
	var p models.TaskProgress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decoding task progress for %s: %w", taskID, err)
	}
	return &p, nil
}

// DeleteTaskProgress removes the progress message for one task.
func (s *RedisStore) DeleteTaskProgress(ctx context.Context, taskID string) error {
	if err := s.rdb.Del(ctx, TaskProgressKey(taskID)).Err(); err != nil {
		return fmt.Errorf("deleting task progress for %s: %w", taskID, err)
	}
	return nil
}

func entityFromFields(fields map[string]string) (*models.EntityProgress, error) {
	p := &models.EntityProgress{
		Phase:    models.Phase(fields["phase"]),
		Step:     fields["step"],
		ErrorMsg: fields["error_msg"],
	}
	var err error
	if raw := fields["total"]; raw != "" {
		if p.Total, err = strconv.Atoi(raw); err != nil {
			return nil, fmt.Errorf("bad total: %w", err)
		}
	}
	if raw := fields["done"]; raw != "" {
		if p.Done, err = strconv.Atoi(raw); err != nil {
			return nil, fmt.Errorf("bad done: %w", err)
		}
	}
	// Concurrent terminations can briefly drive done past total; clamp for
	// display, the zero-crossing check in fan-in is what fires exactly once.
	if p.Done < 0 {
		p.Done = 0
	}
	if raw := fields["updated_at"]; raw != "" {
		if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return nil, fmt.Errorf("bad updated_at: %w", err)
		}
	}
	return p, nil
}
