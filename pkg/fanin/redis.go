package fanin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trendwatch/trendwatch/pkg/models"
	"github.com/trendwatch/trendwatch/pkg/progress"
)

// terminalScript performs the per-child bookkeeping in one atomic step:
// decrement pending, bump the entity's done counter, and on the zero
// crossing consume the staged continuation. GETDEL semantics guarantee at
// most one caller ever sees the continuation, even when the last children
// terminate concurrently.
// KEYS[1] = pending counter, KEYS[2] = entity progress hash,
// KEYS[3] = on-complete record.
// ARGV[1] = now, ARGV[2] = entity TTL seconds.
// Returns: continuation JSON on the firing call, '' when complete without a
// continuation, false while children remain.
var terminalScript = redis.NewScript(`
local remaining = redis.call('DECR', KEYS[1])
redis.call('HINCRBY', KEYS[2], 'done', 1)
redis.call('HSET', KEYS[2], 'updated_at', ARGV[1])
redis.call('EXPIRE', KEYS[2], ARGV[2])
if remaining > 0 then
  return false
end
redis.call('DEL', KEYS[1])
local cont = redis.call('GET', KEYS[3])
if cont then
  redis.call('DEL', KEYS[3])
  return cont
end
return ''
`)

// RedisCoordinator is the Redis-backed fan-in coordinator. It shares key
// naming with the progress store so the done counter it bumps is the one
// the HTTP API reads.
type RedisCoordinator struct {
	rdb redis.UniversalClient
}

// NewRedisCoordinator creates a coordinator on the given Redis client.
func NewRedisCoordinator(rdb redis.UniversalClient) *RedisCoordinator {
	return &RedisCoordinator{rdb: rdb}
}

// Stage records the continuation and pending counter before children are
// pushed. The continuation is written first so a crash between the two
// writes cannot strand a counter with no follow-up.
func (c *RedisCoordinator) Stage(ctx context.Context, ref models.EntityRef, cont *models.Continuation, pending int) error {
	b, err := json.Marshal(cont)
	if err != nil {
		return fmt.Errorf("encoding continuation for %s %s: %w", ref.Type, ref.ID, err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, progress.OnCompleteKey(ref), b, progress.EntityTTL)
	pipe.Set(ctx, progress.PendingKey(ref), pending, progress.EntityTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("staging fan-in for %s %s: %w", ref.Type, ref.ID, err)
	}
	return nil
}

// TaskTerminal runs the atomic decrement/zero-crossing step.
func (c *RedisCoordinator) TaskTerminal(ctx context.Context, ref models.EntityRef) (*Outcome, error) {
	res, err := terminalScript.Run(ctx, c.rdb,
		[]string{
			progress.PendingKey(ref),
			progress.EntityKey(ref),
			progress.OnCompleteKey(ref),
		},
		time.Now().UTC().Format(time.RFC3339Nano),
		int(progress.EntityTTL/time.Second)).Text()
	if err == redis.Nil {
		return &Outcome{}, nil // children still outstanding
	}
	if err != nil {
		return nil, fmt.Errorf("fan-in terminal for %s %s: %w", ref.Type, ref.ID, err)
	}
	if res == "" {
		return &Outcome{Complete: true}, nil
	}
	var cont models.Continuation
	if err := json.Unmarshal([]byte(res), &cont); err != nil {
		return nil, fmt.Errorf("decoding continuation for %s %s: %w", ref.Type, ref.ID, err)
	}
	return &Outcome{Complete: true, Continuation: &cont}, nil
}
