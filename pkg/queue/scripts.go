package queue

import "github.com/redis/go-redis/v9"

// Lua scripts keep multi-key transitions atomic under concurrent brokers:
// at-most-one claim per task, retry accounting in a single round trip, and
// idempotent sweeps. Task state lives in a hash at task:<id>; per-label
// pending zsets, the deferred zset, and the claimed zset hold ids scored so
// that ZRANGE order is priority-descending then FIFO.

// pushScript inserts the task hash and schedules it, unless the id exists.
// KEYS[1] = task hash, KEYS[2] = pending zset for the label.
// ARGV[1] = score, ARGV[2] = task id, ARGV[3..] = field/value pairs.
var pushScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
for i = 3, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// popScript claims the best eligible task across the given pending zsets.
// KEYS[1..n-1] = pending zsets, KEYS[n] = claimed zset.
// ARGV[1] = agent name, ARGV[2] = started_at, ARGV[3] = now ms,
// ARGV[4] = task key prefix.
// Returns the claimed task id, or false when nothing is pending.
var popScript = redis.NewScript(`
local bestID, bestScore, bestQueue
for i = 1, #KEYS - 1 do
  local entry = redis.call('ZRANGE', KEYS[i], 0, 0, 'WITHSCORES')
  if entry[1] then
    local score = tonumber(entry[2])
    if not bestScore or score < bestScore then
      bestID = entry[1]
      bestScore = score
      bestQueue = KEYS[i]
    end
  end
end
if not bestID then
  return false
end
redis.call('ZREM', bestQueue, bestID)
local task = ARGV[4] .. bestID
redis.call('HSET', task,
  'status', 'claimed',
  'assigned_to', ARGV[1],
  'started_at', ARGV[2])
redis.call('ZADD', KEYS[#KEYS], ARGV[3], bestID)
return bestID
`)

// markDoneScript completes a claimed task.
// KEYS[1] = task hash, KEYS[2] = claimed zset.
// ARGV[1] = agent name, ARGV[2] = task id, ARGV[3] = completed_at,
// ARGV[4] = result JSON ('' = none).
// Returns 1 ok, -1 unknown task, -2 wrong claimant, -3 not claimed.
var markDoneScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'status') ~= 'claimed' then
  return -3
end
if redis.call('HGET', KEYS[1], 'assigned_to') ~= ARGV[1] then
  return -2
end
redis.call('HSET', KEYS[1], 'status', 'completed', 'completed_at', ARGV[3])
if ARGV[4] ~= '' then
  redis.call('HSET', KEYS[1], 'result', ARGV[4])
end
redis.call('ZREM', KEYS[2], ARGV[2])
return 1
`)

// markFailedScript records a failed attempt. While retry budget remains the
// task returns to pending with retry_count+1; otherwise it terminalizes.
// KEYS[1] = task hash, KEYS[2] = claimed zset, KEYS[3] = pending zset.
// ARGV[1] = agent name, ARGV[2] = task id, ARGV[3] = error message,
// ARGV[4] = completed_at, ARGV[5] = requeue score.
// Returns 0 requeued, 1 terminal, or the markDone error codes.
var markFailedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'status') ~= 'claimed' then
  return -3
end
if redis.call('HGET', KEYS[1], 'assigned_to') ~= ARGV[1] then
  return -2
end
redis.call('HSET', KEYS[1], 'error', ARGV[3])
redis.call('ZREM', KEYS[2], ARGV[2])
local rc = tonumber(redis.call('HGET', KEYS[1], 'retry_count')) or 0
local max = tonumber(redis.call('HGET', KEYS[1], 'max_retries')) or 0
if rc < max then
  redis.call('HSET', KEYS[1],
    'retry_count', rc + 1,
    'status', 'pending',
    'assigned_to', '')
  redis.call('ZADD', KEYS[3], ARGV[5], ARGV[2])
  return 0
end
redis.call('HSET', KEYS[1], 'status', 'failed', 'completed_at', ARGV[4])
return 1
`)

// requeueDelayedScript parks a claimed task as deferred.
// KEYS[1] = task hash, KEYS[2] = claimed zset, KEYS[3] = deferred zset.
// ARGV[1] = agent name, ARGV[2] = task id, ARGV[3] = visible-at ms.
var requeueDelayedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'status') ~= 'claimed' then
  return -3
end
if redis.call('HGET', KEYS[1], 'assigned_to') ~= ARGV[1] then
  return -2
end
redis.call('HSET', KEYS[1], 'status', 'deferred', 'assigned_to', '')
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[2])
return 1
`)

// sweepDeferredScript promotes due deferred tasks back to pending.
// KEYS[1] = deferred zset.
// ARGV[1] = now ms, ARGV[2] = task key prefix, ARGV[3] = pending key prefix,
// ARGV[4] = priority score step.
var sweepDeferredScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, id in ipairs(due) do
  local task = ARGV[2] .. id
  local label = redis.call('HGET', task, 'label')
  if label then
    local prio = tonumber(redis.call('HGET', task, 'priority')) or 0
    local created = tonumber(redis.call('HGET', task, 'created_ms')) or 0
    redis.call('HSET', task, 'status', 'pending')
    redis.call('ZADD', ARGV[3] .. label, created - prio * tonumber(ARGV[4]), id)
  end
  redis.call('ZREM', KEYS[1], id)
end
return #due
`)

// sweepLeasesScript reclaims claimed tasks whose lease expired. While retry
// budget remains the task returns to pending with retry_count+1 (the crash
// counts as an attempt); otherwise it terminalizes so the retry bound holds.
// KEYS[1] = claimed zset.
// ARGV[1] = lease cutoff ms, ARGV[2] = task key prefix,
// ARGV[3] = pending key prefix, ARGV[4] = priority score step,
// ARGV[5] = now timestamp.
// reclaimAssignedScript immediately reclaims claimed tasks held by the named
// agents, with the same retry accounting as sweepLeasesScript. Used at
// startup to recover tasks orphaned by a previous run of this process.
// KEYS[1] = claimed zset.
// ARGV[1] = task key prefix, ARGV[2] = pending key prefix,
// ARGV[3] = priority score step, ARGV[4] = now timestamp,
// ARGV[5..] = agent names.
var reclaimAssignedScript = redis.NewScript(`
local owned = {}
for i = 5, #ARGV do
  owned[ARGV[i]] = true
end
local reclaimed = 0
local claimed = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, id in ipairs(claimed) do
  local task = ARGV[1] .. id
  if redis.call('EXISTS', task) == 1 then
    if owned[redis.call('HGET', task, 'assigned_to')] then
      local rc = tonumber(redis.call('HGET', task, 'retry_count')) or 0
      local max = tonumber(redis.call('HGET', task, 'max_retries')) or 0
      if rc < max then
        local label = redis.call('HGET', task, 'label')
        local prio = tonumber(redis.call('HGET', task, 'priority')) or 0
        local created = tonumber(redis.call('HGET', task, 'created_ms')) or 0
        redis.call('HSET', task,
          'retry_count', rc + 1,
          'status', 'pending',
          'assigned_to', '')
        redis.call('ZADD', ARGV[2] .. label, created - prio * tonumber(ARGV[3]), id)
      else
        redis.call('HSET', task,
          'status', 'failed',
          'error', 'orphaned: claimant restarted while task was in progress',
          'completed_at', ARGV[4])
      end
      redis.call('ZREM', KEYS[1], id)
      reclaimed = reclaimed + 1
    end
  else
    redis.call('ZREM', KEYS[1], id)
  end
end
return reclaimed
`)

var sweepLeasesScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, id in ipairs(expired) do
  local task = ARGV[2] .. id
  if redis.call('EXISTS', task) == 1 then
    local rc = tonumber(redis.call('HGET', task, 'retry_count')) or 0
    local max = tonumber(redis.call('HGET', task, 'max_retries')) or 0
    if rc < max then
      local label = redis.call('HGET', task, 'label')
      local prio = tonumber(redis.call('HGET', task, 'priority')) or 0
      local created = tonumber(redis.call('HGET', task, 'created_ms')) or 0
      redis.call('HSET', task,
        'retry_count', rc + 1,
        'status', 'pending',
        'assigned_to', '')
      redis.call('ZADD', ARGV[3] .. label, created - prio * tonumber(ARGV[4]), id)
    else
      redis.call('HSET', task,
        'status', 'failed',
        'error', 'lease expired: claimant did not complete in time',
        'completed_at', ARGV[5])
    end
  end
  redis.call('ZREM', KEYS[1], id)
end
return #expired
`)
