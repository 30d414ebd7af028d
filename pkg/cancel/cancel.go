// Package cancel records documents whose processing must stop.
package cancel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Registry is consulted by embedding workers before every batch.
type Registry interface {
	Cancel(ctx context.Context, id string) error
	IsCancelled(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// MemoryRegistry keeps flags in process. Entries expire after ttl so the
// map does not grow without bound; a zero ttl keeps them until Forget.
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	return &MemoryRegistry{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (r *MemoryRegistry) Cancel(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = r.now()
	return nil
}

func (r *MemoryRegistry) IsCancelled(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	at, ok := r.entries[id]
	if !ok {
		return false, nil
	}
	if r.expired(at) {
		delete(r.entries, id)
		return false, nil
	}
	return true, nil
}

func (r *MemoryRegistry) Forget(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (r *MemoryRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, at := range r.entries {
		if r.expired(at) {
			delete(r.entries, id)
			n++
		}
	}
	return n
}

func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *MemoryRegistry) expired(at time.Time) bool {
	return r.ttl > 0 && r.now().Sub(at) > r.ttl
}

// RedisRegistry shares flags between the API and worker processes.
type RedisRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, prefix: "cancel:", ttl: ttl}
}

func (r *RedisRegistry) key(id string) string {
	return r.prefix + id
}

func (r *RedisRegistry) Cancel(ctx context.Context, id string) error {
	if err := r.client.Set(ctx, r.key(id), 1, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark %s cancelled: %w", id, err)
	}
	return nil
}

func (r *RedisRegistry) IsCancelled(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read cancel flag of %s: %w", id, err)
	}
	return n > 0, nil
}

func (r *RedisRegistry) Forget(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to clear cancel flag of %s: %w", id, err)
	}
	return nil
}
