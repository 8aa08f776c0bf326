package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// MemoryLedger keeps the current day's sent keys in process memory. Keys
// from earlier days are dropped once a key for a new day is claimed.
type MemoryLedger struct {
	mu   sync.Mutex
	day  string
	seen map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]struct{})}
}

func (m *MemoryLedger) Claim(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if day := keyDay(key); day != m.day {
		for k := range m.seen {
			if keyDay(k) != day {
				delete(m.seen, k)
			}
		}
		m.day = day
	}
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = struct{}{}
	return true, nil
}

// Len returns the number of keys held.
func (m *MemoryLedger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// keyDay is the trailing YYYY-MM-DD of a key built by Reminder.Key.
func keyDay(key string) string {
	const n = len("2006-01-02")
	if len(key) < n {
		return ""
	}
	return key[len(key)-n:]
}

func (m *MemoryLedger) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.seen, key)
	m.mu.Unlock()
	return nil
}

// RedisLedger shares sent keys between processes. Keys expire after ttl.
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLedger creates a RedisLedger. Keys live for two days by default,
// long enough to outlast the date in the key.
func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &RedisLedger{client: client, prefix: "calm-todo:reminder:", ttl: ttl}
}

func (l *RedisLedger) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, time.Now().Unix(), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (l *RedisLedger) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
