package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendwatch/trendwatch/pkg/models"
)

// The conformance helpers below are shared with the Redis integration tests
// so both implementations are held to the same contract.

func testPriorityOrder(t *testing.T, q TaskQueue) {
	ctx := context.Background()

	low := models.NewTask("crawler:x", map[string]any{"n": 1})
	low.Priority = models.PriorityLow
	high := models.NewTask("crawler:x", map[string]any{"n": 2})
	high.Priority = models.PriorityHigh
	medium := models.NewTask("crawler:x", map[string]any{"n": 3})
	medium.Priority = models.PriorityMedium

	require.NoError(t, q.Push(ctx, low))
	require.NoError(t, q.Push(ctx, high))
	require.NoError(t, q.Push(ctx, medium))

	first, err := q.Pop(ctx, []string{"crawler:x"}, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, high.ID, first.ID)
	assert.Equal(t, models.TaskStatusClaimed, first.Status)
	assert.Equal(t, "agent-a", first.AssignedTo)
	require.NotNil(t, first.StartedAt)

	second, err := q.Pop(ctx, []string{"crawler:x"}, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, medium.ID, second.ID)

	third, err := q.Pop(ctx, []string{"crawler:x"}, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, low.ID, third.ID)

	_, err = q.Pop(ctx, []string{"crawler:x"}, "agent-a")
	assert.ErrorIs(t, err, ErrNoTasks)
}

func testFIFOWithinPriority(t *testing.T, q TaskQueue) {
	ctx := context.Background()

	older := models.NewTask("searcher:web", nil)
	older.CreatedAt = time.Now().UTC().Add(-time.Minute)
	newer := models.NewTask("searcher:web", nil)

	require.NoError(t, q.Push(ctx, newer))
	require.NoError(t, q.Push(ctx, older))

	first, err := q.Pop(ctx, []string{"searcher:web"}, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, older.ID, first.ID, "older task should pop first within a priority class")
}

func testIdempotentPush(t *testing.T, q TaskQueue) {
	ctx := context.Background()

	task := models.NewTask("crawler:x", map[string]any{"topic_id": "t1"})
	require.NoError(t, q.Push(ctx, task))

	// Second push of the same id must not reset state or duplicate the row.
	claimed, err := q.Pop(ctx, []string{"crawler:x"}, "agent-a")
	require.NoError(t, err)
	require.Equal(t, task.ID, claimed.ID)

	require.NoError(t, q.Push(ctx, task))

	stored, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusClaimed, stored.Status)

	_, err = q.Pop(ctx, []string{"crawler:x"}, "agent-b")
	assert.ErrorIs(t, err, ErrNoTasks)
}

func testMarkDoneRoundTrip(t *testing.T, q TaskQueue) {
	ctx := context.Background()

	task := models.NewTask("analyst:analyze", map[string]any{"topic_id": "t1"})
	require.NoError(t, q.Push(ctx, task))

	claimed, err := q.Pop(ctx, []string{"analyst:analyze"}, "analyst")
	require.NoError(t, err)

	require.NoError(t, q.MarkDone(ctx, claimed, map[string]any{"status": "crawling"}))

	stored, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	result, ok := stored.Result.(map[string]any)
	require.True(t, ok, "result should decode as an object")
	assert.Equal(t, "crawling", result["status"])

	_, err = q.Pop(ctx, []string{"analyst:analyze"}, "analyst")
	assert.ErrorIs(t, err, ErrNoTasks)
}

func testRetryExhaustion(t *testing.T, q TaskQueue) {
	ctx := context.Background()

	task := models.NewTask("crawler:x", nil)
	task.MaxRetries = 2
	require.NoError(t, q.Push(ctx, task))

	// Three attempts total: two retries, then terminal failure with the
	// retry count capped at max_retries.
	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := q.Pop(ctx, []string{"crawler:x"}, "agent-a")
		require.NoError(t, err, "attempt %d should claim", attempt)

		terminal, err := q.MarkFailed(ctx, claimed, "boom")
		require.NoError(t, err)
		assert.Equal(t, attempt == 3, terminal, "attempt %d", attempt)

		stored, err := q.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.LessOrEqual(t, stored.RetryCount, stored.MaxRetries)
	}

	stored, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, stored.Status)
	assert.Equal(t, 2, stored.RetryCount)
	assert.Contains(t, stored.Error, "boom")

	_, err = q.Pop(ctx, []string{"crawler:x"}, "agent-a")
	assert.ErrorIs(t, err, ErrNoTasks)
}

func testClaimantEnforcement(t *testing.T, q TaskQueue) {
	ctx := context.Background()

	task := models.NewTask("crawler:x", nil)
	require.NoError(t, q.Push(ctx, task))

	claimed, err := q.Pop(ctx, []string{"crawler:x"}, "agent-a")
	require.NoError(t, err)

	imposter := cloneTask(claimed)
	imposter.AssignedTo = "agent-b"
	err = q.MarkDone(ctx, imposter, nil)
	assert.ErrorIs(t, err, ErrNotClaimant)

	require.NoError(t, q.MarkDone(ctx, claimed, nil))

	// Terminal tasks cannot transition again.
	err = q.MarkDone(ctx, claimed, nil)
	assert.ErrorIs(t, err, ErrNotClaimed)
}

func testUnknownTask(t *testing.T, q TaskQueue) {
	ctx := context.Background()

	ghost := models.NewTask("crawler:x", nil)
	ghost.AssignedTo = "agent-a"

	err := q.MarkDone(ctx, ghost, nil)
	assert.ErrorIs(t, err, ErrUnknownTask)

	_, err = q.MarkFailed(ctx, ghost, "x")
	assert.ErrorIs(t, err, ErrUnknownTask)

	_, err = q.Get(ctx, ghost.ID)
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func testDeferredVisibility(t *testing.T, q TaskQueue) {
	ctx := context.Background()

	task := models.NewTask("crawler:x", nil)
	require.NoError(t, q.Push(ctx, task))

	claimed, err := q.Pop(ctx, []string{"crawler:x"}, "agent-a")
	require.NoError(t, err)

	require.NoError(t, q.RequeueDelayed(ctx, claimed, 30*time.Millisecond))

	stored, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDeferred, stored.Status)
	assert.Equal(t, 0, stored.RetryCount, "deferral must not consume retry budget")

	// Not yet visible.
	stats, err := q.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Promoted)
	_, err = q.Pop(ctx, []string{"crawler:x"}, "agent-a")
	assert.ErrorIs(t, err, ErrNoTasks)

	time.Sleep(50 * time.Millisecond)

	stats, err = q.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Promoted)

	again, err := q.Pop(ctx, []string{"crawler:x"}, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, task.ID, again.ID)
	assert.Equal(t, 0, again.RetryCount)
}

func testPopBoundaries(t *testing.T, q TaskQueue) {
	ctx := context.Background()

	_, err := q.Pop(ctx, nil, "agent-a")
	assert.ErrorIs(t, err, ErrNoTasks)

	_, err = q.Pop(ctx, []string{"no:such:label"}, "agent-a")
	assert.ErrorIs(t, err, ErrNoTasks)
}

func testDepths(t *testing.T, q TaskQueue) {
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, models.NewTask("crawler:x", nil)))
	require.NoError(t, q.Push(ctx, models.NewTask("crawler:x", nil)))
	require.NoError(t, q.Push(ctx, models.NewTask("searcher:web", nil)))

	depths, err := q.Depths(ctx, []string{"crawler:x", "searcher:web", "analyst:analyze"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), depths["crawler:x"])
	assert.Equal(t, int64(1), depths["searcher:web"])
	assert.Equal(t, int64(0), depths["analyst:analyze"])
}

func testStartupOrphanReclaim(t *testing.T, q TaskQueue) {
	ctx := context.Background()

	// Two tasks orphaned by "this" process, one held by another process.
	mine := models.NewTask("crawler:x", nil)
	spent := models.NewTask("crawler:x", nil)
	spent.MaxRetries = 0
	theirs := models.NewTask("searcher:web", nil)
	require.NoError(t, q.Push(ctx, mine))
	require.NoError(t, q.Push(ctx, spent))
	require.NoError(t, q.Push(ctx, theirs))

	_, err := q.Pop(ctx, []string{"crawler:x"}, "crawler-1")
	require.NoError(t, err)
	_, err = q.Pop(ctx, []string{"crawler:x"}, "crawler-1")
	require.NoError(t, err)
	_, err = q.Pop(ctx, []string{"searcher:web"}, "searcher-1")
	require.NoError(t, err)

	n, err := q.ReclaimAssigned(ctx, []string{"crawler-1", "analyst-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stored, err := q.Get(ctx, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, stored.Status)
	assert.Equal(t, 1, stored.RetryCount, "orphan reclaim counts as an attempt")
	assert.Empty(t, stored.AssignedTo)

	exhausted, err := q.Get(ctx, spent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, exhausted.Status, "no budget left terminalizes")

	// The other process's claim is untouched.
	other, err := q.Get(ctx, theirs.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusClaimed, other.Status)
	assert.Equal(t, "searcher-1", other.AssignedTo)

	// The reclaimed task is claimable again.
	again, err := q.Pop(ctx, []string{"crawler:x"}, "crawler-2")
	require.NoError(t, err)
	assert.Equal(t, mine.ID, again.ID)
}

func TestMemoryQueuePriorityOrder(t *testing.T)     { testPriorityOrder(t, NewMemoryQueue(0)) }
func TestMemoryQueueFIFOWithinPriority(t *testing.T) { testFIFOWithinPriority(t, NewMemoryQueue(0)) }
func TestMemoryQueueIdempotentPush(t *testing.T)    { testIdempotentPush(t, NewMemoryQueue(0)) }
func TestMemoryQueueMarkDoneRoundTrip(t *testing.T) { testMarkDoneRoundTrip(t, NewMemoryQueue(0)) }
func TestMemoryQueueRetryExhaustion(t *testing.T)   { testRetryExhaustion(t, NewMemoryQueue(0)) }
func TestMemoryQueueClaimantEnforcement(t *testing.T) {
	testClaimantEnforcement(t, NewMemoryQueue(0))
}
func TestMemoryQueueUnknownTask(t *testing.T)        { testUnknownTask(t, NewMemoryQueue(0)) }
func TestMemoryQueueDeferredVisibility(t *testing.T) { testDeferredVisibility(t, NewMemoryQueue(0)) }
func TestMemoryQueuePopBoundaries(t *testing.T)      { testPopBoundaries(t, NewMemoryQueue(0)) }
func TestMemoryQueueDepths(t *testing.T)             { testDepths(t, NewMemoryQueue(0)) }
func TestMemoryQueueStartupOrphanReclaim(t *testing.T) {
	testStartupOrphanReclaim(t, NewMemoryQueue(0))
}

func TestMemoryQueueLeaseReclaim(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(10 * time.Millisecond)

	task := models.NewTask("crawler:x", nil)
	require.NoError(t, q.Push(ctx, task))

	_, err := q.Pop(ctx, []string{"crawler:x"}, "agent-a")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	stats, err := q.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Reclaimed)

	stored, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, stored.Status)
	assert.Equal(t, 1, stored.RetryCount, "lease reclaim counts as an attempt")

	// The reclaimed task is claimable again.
	again, err := q.Pop(ctx, []string{"crawler:x"}, "agent-b")
	require.NoError(t, err)
	assert.Equal(t, task.ID, again.ID)
	assert.Equal(t, "agent-b", again.AssignedTo)
}

func TestMemoryQueueAtMostOneClaim(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(0)

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, q.Push(ctx, models.NewTask("crawler:x", nil)))
	}

	type claim struct {
		id    string
		agent string
	}
	results := make(chan claim, n*2)
	done := make(chan struct{})

	for _, agent := range []string{"agent-a", "agent-b", "agent-c", "agent-d"} {
		go func(name string) {
			for {
				task, err := q.Pop(ctx, []string{"crawler:x"}, name)
				if err != nil {
					select {
					case <-done:
					default:
					}
					return
				}
				results <- claim{id: task.ID, agent: name}
			}
		}(agent)
	}

	seen := make(map[string]string, n)
	for i := 0; i < n; i++ {
		c := <-results
		prev, dup := seen[c.id]
		require.False(t, dup, "task %s claimed by both %s and %s", c.id, prev, c.agent)
		seen[c.id] = c.agent
	}
	close(done)
	assert.Len(t, seen, n)
}

func TestSweeperLoop(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(0)
	s := NewSweeper(q, 10*time.Millisecond)

	task := models.NewTask("crawler:x", nil)
	require.NoError(t, q.Push(ctx, task))
	claimed, err := q.Pop(ctx, []string{"crawler:x"}, "agent-a")
	require.NoError(t, err)
	require.NoError(t, q.RequeueDelayed(ctx, claimed, 20*time.Millisecond))

	s.Start(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool {
		stored, err := q.Get(ctx, task.ID)
		return err == nil && stored.Status == models.TaskStatusPending
	}, time.Second, 10*time.Millisecond, "sweeper should promote the deferred task")

	_, promoted, _ := s.Stats()
	assert.GreaterOrEqual(t, promoted, 1)
}
