package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"tasksetu-api/domain"
)

type backend interface {
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	InsertTask(ctx context.Context, t domain.Task) error
	UpdateTask(ctx context.Context, t domain.Task) error
	GetSubtasks(ctx context.Context, taskID string) ([]domain.Subtask, error)
	UpsertSubtask(ctx context.Context, st domain.Subtask) error
}

// Cache wraps a task backend with Redis-backed read-through caching. Writes
// go to the backend first and then refresh or evict the cached copy.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// A nil client or zero TTL disables caching.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	var cached domain.Task
	if c.load(ctx, taskCacheKey(id), &cached) {
		return &cached, nil
	}
	t, err := c.base.GetTask(ctx, id)
	if err != nil || t == nil {
		return t, err
	}
	c.store(ctx, taskCacheKey(id), t)
	return t, nil
}

func (c *Cache) InsertTask(ctx context.Context, t domain.Task) error {
	if err := c.base.InsertTask(ctx, t); err != nil {
		return err
	}
	c.store(ctx, taskCacheKey(t.ID), t)
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, t domain.Task) error {
	if err := c.base.UpdateTask(ctx, t); err != nil {
		c.evict(ctx, taskCacheKey(t.ID))
		return err
	}
	c.store(ctx, taskCacheKey(t.ID), t)
	return nil
}

// GetSubtasks reads through the cache. A list read from the backend is only
// cached when no UpsertSubtask for the task ran since the read started, so a
// slow reader cannot put back a list that an upsert already replaced.
func (c *Cache) GetSubtasks(ctx context.Context, taskID string) ([]domain.Subtask, error) {
	var cached []domain.Subtask
	if c.load(ctx, subtasksCacheKey(taskID), &cached) {
		return cached, nil
	}
	gen, genOK := c.generation(ctx, taskID)
	subtasks, err := c.base.GetSubtasks(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if genOK {
		c.storeIfGeneration(ctx, taskID, gen, subtasks)
	}
	return subtasks, nil
}

// UpsertSubtask writes to the backend, then bumps the task's subtask
// generation and evicts the cached list.
func (c *Cache) UpsertSubtask(ctx context.Context, st domain.Subtask) error {
	err := c.base.UpsertSubtask(ctx, st)
	if c.redis != nil {
		genKey := subtasksGenKey(st.TaskID)
		_, _ = c.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Incr(ctx, genKey)
			p.Expire(ctx, genKey, c.genTTL())
			p.Del(ctx, subtasksCacheKey(st.TaskID))
			return nil
		})
	}
	return err
}

var errStaleRead = errors.New("subtasks changed during read")

func (c *Cache) generation(ctx context.Context, taskID string) (string, bool) {
	if c.redis == nil || c.ttl == 0 {
		return "", false
	}
	gen, err := c.redis.Get(ctx, subtasksGenKey(taskID)).Result()
	if err == redis.Nil {
		return "", true
	}
	return gen, err == nil
}

// storeIfGeneration caches subtasks under WATCH so the write is dropped when
// the generation moved after gen was read.
func (c *Cache) storeIfGeneration(ctx context.Context, taskID, gen string, subtasks []domain.Subtask) {
	data, err := sonic.Marshal(subtasks)
	if err != nil {
		return
	}
	genKey := subtasksGenKey(taskID)
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != gen {
			return errStaleRead
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, subtasksCacheKey(taskID), data, c.ttl)
			return nil
		})
		return err
	}, genKey)
}

// genTTL outlives any list cached under the generation.
func (c *Cache) genTTL() time.Duration {
	if c.ttl <= 0 {
		return time.Hour
	}
	return 2*c.ttl + time.Minute
}

func (c *Cache) load(ctx context.Context, key string, v any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func taskCacheKey(id string) string {
	return "task:" + id
}

func subtasksCacheKey(taskID string) string {
	return "subtasks:" + taskID
}

func subtasksGenKey(taskID string) string {
	return "subtasks-gen:" + taskID
}
