package db

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"calm-todo/internal/config"
)

// ConnectRedis opens the Redis client behind the offline cache and the
// reminder ledger and checks that the server answers.
func ConnectRedis(ctx context.Context, cfg config.CacheConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}
