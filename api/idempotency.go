package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper stores command idempotency keys in Redis so every API
// instance rejects a replayed command.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(taskID, key string) string {
	return fmt.Sprintf("cmd:%s:%s", taskID, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, taskID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(taskID, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key so a failed command may be retried.
func (r *RedisDeduper) Remove(ctx context.Context, taskID, key string) error {
	return r.client.Del(ctx, r.key(taskID, key)).Err()
}
