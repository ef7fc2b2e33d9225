package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryContextStore keeps remembered filenames in-process.
type MemoryContextStore struct {
	mu    sync.RWMutex
	files map[string]string
}

// NewMemoryContextStore initializes an empty context store.
func NewMemoryContextStore() *MemoryContextStore {
	return &MemoryContextStore{files: make(map[string]string)}
}

// RememberFile records the last uploaded filename for a thread.
func (m *MemoryContextStore) RememberFile(_ context.Context, ownerID, threadID, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[threadKey(threadID, ownerID)] = filename
	return nil
}

// LastFile returns the remembered filename, if any.
func (m *MemoryContextStore) LastFile(_ context.Context, ownerID, threadID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.files[threadKey(threadID, ownerID)]
	return name, ok, nil
}

// Clear forgets the remembered filename.
func (m *MemoryContextStore) Clear(_ context.Context, ownerID, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, threadKey(threadID, ownerID))
	return nil
}

// RedisContextStore keeps remembered filenames in Redis so context survives
// restarts and is shared across replicas.
type RedisContextStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisContextStore connects a context store to Redis. TTL <= 0 means
// entries never expire.
func NewRedisContextStore(addr, password, prefix string, ttl time.Duration) *RedisContextStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "ragchat:context"
	}
	return &RedisContextStore{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *RedisContextStore) key(ownerID, threadID string) string {
	return r.prefix + ":" + ownerID + ":" + threadID
}

// RememberFile records the last uploaded filename for a thread.
func (r *RedisContextStore) RememberFile(ctx context.Context, ownerID, threadID, filename string) error {
	return r.client.Set(ctx, r.key(ownerID, threadID), filename, r.ttl).Err()
}

// LastFile returns the remembered filename, if any.
func (r *RedisContextStore) LastFile(ctx context.Context, ownerID, threadID string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.key(ownerID, threadID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Clear forgets the remembered filename.
func (r *RedisContextStore) Clear(ctx context.Context, ownerID, threadID string) error {
	return r.client.Del(ctx, r.key(ownerID, threadID)).Err()
}
