package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/trendwatch/trendwatch/pkg/models"
)

// newRedisTestQueue connects to the Redis instance named by TEST_REDIS_URL
// and flushes the selected database. Tests are skipped when the variable is
// unset so the suite stays hermetic by default.
func newRedisTestQueue(t *testing.T, lease time.Duration) *RedisQueue {
	t.Helper()

	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set; skipping Redis integration test")
	}

	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.FlushDB(context.Background()).Err(),
		"TEST_REDIS_URL must point at a dedicated test database")

	return NewRedisQueue(client, lease)
}

func TestRedisQueuePriorityOrder(t *testing.T) {
	testPriorityOrder(t, newRedisTestQueue(t, 0))
}

func TestRedisQueueFIFOWithinPriority(t *testing.T) {
	testFIFOWithinPriority(t, newRedisTestQueue(t, 0))
}

func TestRedisQueueIdempotentPush(t *testing.T) {
	testIdempotentPush(t, newRedisTestQueue(t, 0))
}

func TestRedisQueueMarkDoneRoundTrip(t *testing.T) {
	testMarkDoneRoundTrip(t, newRedisTestQueue(t, 0))
}

func TestRedisQueueRetryExhaustion(t *testing.T) {
	testRetryExhaustion(t, newRedisTestQueue(t, 0))
}

func TestRedisQueueClaimantEnforcement(t *testing.T) {
	testClaimantEnforcement(t, newRedisTestQueue(t, 0))
}

func TestRedisQueueUnknownTask(t *testing.T) {
	testUnknownTask(t, newRedisTestQueue(t, 0))
}

func TestRedisQueueDeferredVisibility(t *testing.T) {
	testDeferredVisibility(t, newRedisTestQueue(t, 0))
}

func TestRedisQueuePopBoundaries(t *testing.T) {
	testPopBoundaries(t, newRedisTestQueue(t, 0))
}

func TestRedisQueueDepths(t *testing.T) {
	testDepths(t, newRedisTestQueue(t, 0))
}

func TestRedisQueueStartupOrphanReclaim(t *testing.T) {
	testStartupOrphanReclaim(t, newRedisTestQueue(t, 0))
}

func TestRedisQueueLeaseReclaim(t *testing.T) {
	ctx := context.Background()
	q := newRedisTestQueue(t, 10*time.Millisecond)

	task := newLeaseTask(t, ctx, q)

	time.Sleep(20 * time.Millisecond)

	stats, err := q.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Reclaimed)

	stored, err := q.Get(ctx, task)
	require.NoError(t, err)
	require.Equal(t, 1, stored.RetryCount)
}

func newLeaseTask(t *testing.T, ctx context.Context, q *RedisQueue) string {
	t.Helper()
	task := models.NewTask("crawler:x", nil)
	require.NoError(t, q.Push(ctx, task))
	_, err := q.Pop(ctx, []string{task.Label}, "agent-a")
	require.NoError(t, err)
	return task.ID
}
