package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownStore tracks when an alert key last fired. Entries live for the
// process lifetime; cardinality is bounded by the number of servers.
type CooldownStore interface {
	Last(key string) (time.Time, bool)
	Mark(key string, t time.Time)
}

// MemoryCooldowns is the default in-process cooldown store.
type MemoryCooldowns struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewMemoryCooldowns creates an empty cooldown store.
func NewMemoryCooldowns() *MemoryCooldowns {
	return &MemoryCooldowns{last: make(map[string]time.Time)}
}

func (m *MemoryCooldowns) Last(key string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.last[key]
	return t, ok
}

func (m *MemoryCooldowns) Mark(key string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[key] = t
}

// RedisCooldowns shares the cooldown window across gateway processes that
// serve the same webhooks. Lookups fail open: if Redis is unreachable the
// alert is sent rather than suppressed.
type RedisCooldowns struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCooldowns connects to redisURL and verifies the connection.
func NewRedisCooldowns(redisURL string) (*RedisCooldowns, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCooldowns{rdb: rdb, prefix: "doctor:cooldown:"}, nil
}

func (r *RedisCooldowns) Last(key string) (time.Time, bool) {
	ms, err := r.rdb.Get(context.Background(), r.prefix+key).Int64()
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (r *RedisCooldowns) Mark(key string, t time.Time) {
	r.rdb.Set(context.Background(), r.prefix+key, t.UnixMilli(), 0)
}

// Close shuts down the Redis connection.
func (r *RedisCooldowns) Close() error { return r.rdb.Close() }
