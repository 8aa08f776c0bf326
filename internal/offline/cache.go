package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Entry is a stored response.
type Entry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"storedAt"`
}

// Cache stores responses grouped into named generations.
type Cache interface {
	Get(ctx context.Context, gen, key string) (Entry, bool, error)
	Put(ctx context.Context, gen, key string, e Entry) error
	// Len counts the entries in gen.
	Len(ctx context.Context, gen string) (int, error)
	Generations(ctx context.Context) ([]string, error)
	DropGeneration(ctx context.Context, gen string) error
}

// MemoryCache keeps responses in process memory.
type MemoryCache struct {
	mu   sync.RWMutex
	gens map[string]map[string]Entry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{gens: make(map[string]map[string]Entry)}
}

func (c *MemoryCache) Get(ctx context.Context, gen, key string) (Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.gens[gen][key]
	return e, ok, nil
}

func (c *MemoryCache) Put(ctx context.Context, gen, key string, e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[gen] == nil {
		c.gens[gen] = make(map[string]Entry)
	}
	c.gens[gen][key] = e
	return nil
}

func (c *MemoryCache) Len(ctx context.Context, gen string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.gens[gen]), nil
}

func (c *MemoryCache) Generations(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.gens))
	for g := range c.gens {
		out = append(out, g)
	}
	return out, nil
}

func (c *MemoryCache) DropGeneration(ctx context.Context, gen string) error {
	c.mu.Lock()
	delete(c.gens, gen)
	c.mu.Unlock()
	return nil
}

// RedisCache keeps each generation in a Redis hash keyed by path and
// tracks generation names in a set.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "calm-todo:offline:"}
}

func (c *RedisCache) genKey(gen string) string { return c.prefix + "gen:" + gen }
func (c *RedisCache) setKey() string           { return c.prefix + "generations" }

func (c *RedisCache) Get(ctx context.Context, gen, key string) (Entry, bool, error) {
	raw, err := c.client.HGet(ctx, c.genKey(gen), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis hget: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode cached entry: %w", err)
	}
	return e, true, nil
}

func (c *RedisCache) Put(ctx context.Context, gen, key string, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, c.genKey(gen), key, raw)
		p.SAdd(ctx, c.setKey(), gen)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

func (c *RedisCache) Len(ctx context.Context, gen string) (int, error) {
	n, err := c.client.HLen(ctx, c.genKey(gen)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hlen: %w", err)
	}
	return int(n), nil
}

func (c *RedisCache) Generations(ctx context.Context) ([]string, error) {
	gens, err := c.client.SMembers(ctx, c.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	return gens, nil
}

func (c *RedisCache) DropGeneration(ctx context.Context, gen string) error {
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, c.genKey(gen))
		p.SRem(ctx, c.setKey(), gen)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis drop generation: %w", err)
	}
	return nil
}
