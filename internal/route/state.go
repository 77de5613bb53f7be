package route

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Counters is the runtime weighting state of one route.
type Counters struct {
	Successes int
	Failures  int
	LastUsed  time.Time
}

// StateStore holds route counters. A single process can use MemoryState;
// multiple workers sharing one route list must share a RedisState so that
// failure counts and rotation see every worker's outcomes.
type StateStore interface {
	Load(ctx context.Context, ids []string) (map[string]Counters, error)
	RecordSuccess(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string) error
	MarkUsed(ctx context.Context, id string, at time.Time) error
	ResetFailures(ctx context.Context, ids []string) error
}

// MemoryState is a process-local StateStore.
type MemoryState struct {
	mu       sync.Mutex
	counters map[string]Counters
}

// NewMemoryState creates an empty MemoryState.
func NewMemoryState() *MemoryState {
	return &MemoryState{counters: make(map[string]Counters)}
}

func (m *MemoryState) Load(_ context.Context, ids []string) (map[string]Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Counters, len(ids))
	for _, id := range ids {
		out[id] = m.counters[id]
	}
	return out, nil
}

func (m *MemoryState) RecordSuccess(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters[id]
	c.Successes++
	m.counters[id] = c
	return nil
}

func (m *MemoryState) RecordFailure(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters[id]
	c.Failures++
	m.counters[id] = c
	return nil
}

func (m *MemoryState) MarkUsed(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters[id]
	c.LastUsed = at
	m.counters[id] = c
	return nil
}

func (m *MemoryState) ResetFailures(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		c := m.counters[id]
		c.Failures = 0
		m.counters[id] = c
	}
	return nil
}

// Redis hash fields for route counters.
const (
	fieldSuccesses = "successes"
	fieldFailures  = "failures"
	fieldLastUsed  = "last_used"
)

// DefaultKeyPrefix namespaces route counter hashes in Redis.
const DefaultKeyPrefix = "listing-sync:route:"

// RedisState keeps route counters in one Redis hash per route so that every
// worker process sees the same failure counts.
type RedisState struct {
	redis  redis.Cmdable
	prefix string
}

// NewRedisState creates a RedisState. An empty prefix uses DefaultKeyPrefix.
func NewRedisState(client redis.Cmdable, prefix string) *RedisState {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisState{redis: client, prefix: prefix}
}

func (r *RedisState) key(id string) string {
	return r.prefix + id
}

func (r *RedisState) Load(ctx context.Context, ids []string) (map[string]Counters, error) {
	pipe := r.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, eris.Wrap(err, "route: redis load counters")
	}

	out := make(map[string]Counters, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		var c Counters
		c.Successes, _ = strconv.Atoi(fields[fieldSuccesses])
		c.Failures, _ = strconv.Atoi(fields[fieldFailures])
		if ms, err := strconv.ParseInt(fields[fieldLastUsed], 10, 64); err == nil && ms > 0 {
			c.LastUsed = time.UnixMilli(ms).UTC()
		}
		out[id] = c
	}
	return out, nil
}

func (r *RedisState) RecordSuccess(ctx context.Context, id string) error {
	return eris.Wrapf(r.redis.HIncrBy(ctx, r.key(id), fieldSuccesses, 1).Err(), "route: redis record success %s", id)
}

func (r *RedisState) RecordFailure(ctx context.Context, id string) error {
	return eris.Wrapf(r.redis.HIncrBy(ctx, r.key(id), fieldFailures, 1).Err(), "route: redis record failure %s", id)
}

func (r *RedisState) MarkUsed(ctx context.Context, id string, at time.Time) error {
	return eris.Wrapf(r.redis.HSet(ctx, r.key(id), fieldLastUsed, at.UnixMilli()).Err(), "route: redis mark used %s", id)
}

func (r *RedisState) ResetFailures(ctx context.Context, ids []string) error {
	pipe := r.redis.Pipeline()
	for _, id := range ids {
		pipe.HSet(ctx, r.key(id), fieldFailures, 0)
	}
	_, err := pipe.Exec(ctx)
	return eris.Wrap(err, "route: redis reset failures")
}
