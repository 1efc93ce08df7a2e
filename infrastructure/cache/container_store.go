package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"intelliconn/infrastructure/configuration"
	"intelliconn/infrastructure/logger"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects using configuration.RedisClient.
func NewRedisClient(c configuration.RedisClient) *redis.Client {
	db, err := strconv.Atoi(c.DatabaseName)
	if err != nil {
		db = 0
	}
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", c.Host, c.Port),
		Username: c.Username,
		Password: c.Password,
		DB:       db,
	})
}

// RedisContainerStore keeps two-phase container ids in redis so they
// survive restarts and are visible to every replica.
type RedisContainerStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisContainerStore(client redis.Cmdable) *RedisContainerStore {
	return &RedisContainerStore{client: client, prefix: "intelliconn:"}
}

func (s *RedisContainerStore) key(k string) string { return s.prefix + k }

func (s *RedisContainerStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		logger.GetLogger().WithField("error", err).WithField("key", key).Error("Error while reading container id")
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisContainerStore) Put(ctx context.Context, key, id string, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), id, ttl).Err()
}

func (s *RedisContainerStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// MemoryContainerStore is the single-process fallback used when redis is
// not configured.
type MemoryContainerStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	id        string
	expiresAt time.Time
}

func NewMemoryContainerStore() *MemoryContainerStore {
	return &MemoryContainerStore{items: make(map[string]memoryItem), now: time.Now}
}

func (s *MemoryContainerStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	if !ok {
		return "", false, nil
	}
	if !it.expiresAt.IsZero() && !s.now().Before(it.expiresAt) {
		delete(s.items, key)
		return "", false, nil
	}
	return it.id, true, nil
}

func (s *MemoryContainerStore) Put(_ context.Context, key, id string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := memoryItem{id: id}
	if ttl > 0 {
		it.expiresAt = s.now().Add(ttl)
	}
	s.items[key] = it
	return nil
}

func (s *MemoryContainerStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}
