package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trendwatch/trendwatch/pkg/models"
)

// Heartbeat timing. The TTL is three missed beats; an agent that stops
// beating disappears from List within 30 seconds.
const (
	HeartbeatTTL      = 30 * time.Second
	HeartbeatInterval = 10 * time.Second
)

const heartbeatKeyPrefix = "agent:heartbeat:"

// HeartbeatStore is the agent liveness contract.
type HeartbeatStore interface {
	// Beat writes the agent's heartbeat record with a fresh TTL.
	Beat(ctx context.Context, hb *models.Heartbeat) error

	// Delete removes the agent's heartbeat record (graceful shutdown).
	Delete(ctx context.Context, name string) error

	// List returns all live heartbeat records.
	List(ctx context.Context) ([]*models.Heartbeat, error)
}

// RedisHeartbeats stores heartbeats as self-expiring JSON keys.
type RedisHeartbeats struct {
	rdb redis.UniversalClient
}

// NewRedisHeartbeats creates a heartbeat store on the given Redis client.
func NewRedisHeartbeats(rdb redis.UniversalClient) *RedisHeartbeats {
	return &RedisHeartbeats{rdb: rdb}
}

// Beat writes the heartbeat with a fresh TTL.
func (s *RedisHeartbeats) Beat(ctx context.Context, hb *models.Heartbeat) error {
	hb.LastHeartbeat = time.Now().UTC()
	b, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("encoding heartbeat for %s: %w", hb.Name, err)
	}
	if err := s.rdb.Set(ctx, heartbeatKeyPrefix+hb.Name, b, HeartbeatTTL).Err(); err != nil {
		return fmt.Errorf("writing heartbeat for %s: %w", hb.Name, err)
	}
	return nil
}

// Delete removes the agent's heartbeat record.
func (s *RedisHeartbeats) Delete(ctx context.Context, name string) error {
	if err := s.rdb.Del(ctx, heartbeatKeyPrefix+name).Err(); err != nil {
		return fmt.Errorf("deleting heartbeat for %s: %w", name, err)
	}
	return nil
}

// List scans for live heartbeat records.
func (s *RedisHeartbeats) List(ctx context.Context) ([]*models.Heartbeat, error) {
	var beats []*models.Heartbeat
	iter := s.rdb.Scan(ctx, 0, heartbeatKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.rdb.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue // expired between scan and read
		}
		if err != nil {
			return nil, fmt.Errorf("reading heartbeat %s: %w", iter.Val(), err)
		}
		var hb models.Heartbeat
		if err := json.Unmarshal([]byte(raw), &hb); err != nil {
			return nil, fmt.Errorf("decoding heartbeat %s: %w", iter.Val(), err)
		}
		beats = append(beats, &hb)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning heartbeats: %w", err)
	}
	return beats, nil
}

// MemoryHeartbeats is an in-process HeartbeatStore with TTL enforcement,
// for tests and single-process runs.
type MemoryHeartbeats struct {
	mu    sync.Mutex
	beats map[string]*models.Heartbeat
	seen  map[string]time.Time
	ttl   time.Duration
}

// NewMemoryHeartbeats creates an empty in-memory heartbeat store.
func NewMemoryHeartbeats() *MemoryHeartbeats {
	return &MemoryHeartbeats{
		beats: make(map[string]*models.Heartbeat),
		seen:  make(map[string]time.Time),
		ttl:   HeartbeatTTL,
	}
}

// SetTTL overrides the record TTL; used by tests to exercise expiry.
func (s *MemoryHeartbeats) SetTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttl = ttl
}

// Beat writes the heartbeat with a fresh TTL.
func (s *MemoryHeartbeats) Beat(_ context.Context, hb *models.Heartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *hb
	clone.LastHeartbeat = time.Now().UTC()
	s.beats[hb.Name] = &clone
	s.seen[hb.Name] = time.Now()
	return nil
}

// Delete removes the agent's heartbeat record.
func (s *MemoryHeartbeats) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.beats, name)
	delete(s.seen, name)
	return nil
}

// List returns all unexpired heartbeat records.
func (s *MemoryHeartbeats) List(_ context.Context) ([]*models.Heartbeat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-s.ttl)
	var beats []*models.Heartbeat
	for name, hb := range s.beats {
		if s.seen[name].Before(cutoff) {
			delete(s.beats, name)
			delete(s.seen, name)
			continue
		}
		clone := *hb
		beats = append(beats, &clone)
	}
	return beats, nil
}
